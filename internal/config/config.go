package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen                = "127.0.0.1:10443"
	DefaultRequestTimeout        = 10 * time.Second
	DefaultStatusRefreshInterval = 60 * time.Second
	DefaultOperatorNamespace     = "kube-system"
	DefaultOperatorConfigMap     = "kexplorer-operator-status"
	DefaultOperatorStaleAfter    = 5 * time.Minute
)

// Config is the user configuration read from config.yaml.
type Config struct {
	Kubeconfig            string            `yaml:"kubeconfig"`
	Listen                string            `yaml:"listen"`
	ClusterOrder          []string          `yaml:"clusterOrder"`
	Folders               []Folder          `yaml:"folders"`
	Aliases               map[string]string `yaml:"aliases"`
	RequestTimeout        time.Duration     `yaml:"requestTimeout"`
	StatusRefreshInterval time.Duration     `yaml:"statusRefreshInterval"`
	Operator              OperatorConfig    `yaml:"operator"`
}

// Folder groups clusters under one root node of the tree.
type Folder struct {
	Name     string   `yaml:"name"`
	Contexts []string `yaml:"contexts"`
}

// OperatorConfig locates the status report published by the in-cluster
// operator.
type OperatorConfig struct {
	Namespace  string        `yaml:"namespace"`
	ConfigMap  string        `yaml:"configMap"`
	StaleAfter time.Duration `yaml:"staleAfter"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "kexplorer", "config.yaml")
}

// Load reads the default config file. A missing file yields defaults.
func Load() (*Config, error) {
	p := DefaultPath()
	if p == "" {
		return Default(), nil
	}
	return LoadFrom(p)
}

// LoadFrom reads path. A missing file yields defaults, a malformed one an
// error.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.StatusRefreshInterval <= 0 {
		c.StatusRefreshInterval = DefaultStatusRefreshInterval
	}
	if c.Operator.Namespace == "" {
		c.Operator.Namespace = DefaultOperatorNamespace
	}
	if c.Operator.ConfigMap == "" {
		c.Operator.ConfigMap = DefaultOperatorConfigMap
	}
	if c.Operator.StaleAfter <= 0 {
		c.Operator.StaleAfter = DefaultOperatorStaleAfter
	}
	if c.Aliases == nil {
		c.Aliases = map[string]string{}
	}
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for i, f := range c.Folders {
		if f.Name == "" {
			return fmt.Errorf("folders[%d]: name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("folders[%d]: duplicate folder %q", i, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}
