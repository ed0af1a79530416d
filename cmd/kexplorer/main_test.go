package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kexplorer/internal/config"
)

func TestLoadConfigDefaultsToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "kexplorer")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("clusterOrder: [prod]\n"), 0o600))

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"prod"}, cfg.ClusterOrder)
}

func TestLoadConfigExplicitPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	p := filepath.Join(t.TempDir(), "alt.yaml")
	require.NoError(t, os.WriteFile(p, []byte("folders:\n  - name: Prod\n    contexts: [prod]\n"), 0o600))

	cfg, err := loadConfig(p)
	require.NoError(t, err)

	l := layoutFrom(cfg)
	require.Len(t, l.Folders, 1)
	assert.Equal(t, "Prod", l.Folders[0].Name)
	assert.Equal(t, []string{"prod"}, l.Folders[0].Contexts)
	assert.Equal(t, config.DefaultListen, cfg.Listen)
}
