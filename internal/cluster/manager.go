package cluster

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/clientcmd/api"
)

// ClusterContext identifies one cluster connection from the kubeconfig.
// Values are immutable; a reload replaces the whole set.
type ClusterContext struct {
	Name      string `json:"name"`
	Server    string `json:"server"`
	AuthInfo  string `json:"authInfo"`
	Namespace string `json:"namespace,omitempty"`
}

// Clients bundles the API clients for one context.
type Clients struct {
	RestConfig *rest.Config
	Clientset  kubernetes.Interface
	Discovery  discovery.DiscoveryInterface
	Dynamic    dynamic.Interface
}

// ClientFactory builds clients for a named context.
type ClientFactory func(kubeconfigPath, contextName string) (*Clients, error)

// ReloadResult describes what changed between two kubeconfig loads.
type ReloadResult struct {
	NamespaceChanged []string
	ContextsChanged  bool
}

type Manager struct {
	mu sync.RWMutex

	kubeconfigPath string
	contexts       map[string]ClusterContext
	timeout        time.Duration
	factory        ClientFactory

	clients map[string]*Clients
}

type Option func(*Manager)

// WithClientFactory replaces the kubeconfig based client construction.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithRequestTimeout sets the rest.Config timeout used for new clients.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

func DefaultKubeconfigPath() string {
	if v := os.Getenv("KUBECONFIG"); v != "" {
		// clientcmd accepts a list, the first entry is the one we watch.
		return filepath.SplitList(v)[0]
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kube", "config")
}

// NewManager loads the kubeconfig at path (default location when empty).
func NewManager(path string, opts ...Option) (*Manager, error) {
	if path == "" {
		path = DefaultKubeconfigPath()
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewManagerFromConfig(path, *cfg, opts...), nil
}

// NewManagerFromConfig builds a manager from an already parsed kubeconfig.
func NewManagerFromConfig(path string, cfg api.Config, opts ...Option) *Manager {
	m := &Manager{
		kubeconfigPath: path,
		contexts:       contextsFrom(cfg),
		timeout:        10 * time.Second,
		clients:        map[string]*Clients{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.factory == nil {
		m.factory = m.buildClients
	}
	return m
}

func loadConfig(path string) (*api.Config, error) {
	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: path}
	cfg, err := loadingRules.Load()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	return cfg, nil
}

func contextsFrom(cfg api.Config) map[string]ClusterContext {
	out := make(map[string]ClusterContext, len(cfg.Contexts))
	for name, ctx := range cfg.Contexts {
		if ctx == nil {
			continue
		}
		server := ""
		if cl, ok := cfg.Clusters[ctx.Cluster]; ok && cl != nil {
			server = cl.Server
		}
		out[name] = ClusterContext{
			Name:      name,
			Server:    server,
			AuthInfo:  ctx.AuthInfo,
			Namespace: ctx.Namespace,
		}
	}
	return out
}

func (m *Manager) KubeconfigPath() string {
	return m.kubeconfigPath
}

// Contexts returns all contexts sorted by name.
func (m *Manager) Contexts() []ClusterContext {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ClusterContext, 0, len(m.contexts))
	for _, c := range m.contexts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) Context(name string) (ClusterContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[name]
	return c, ok
}

// ClientsFor returns cached clients for the context, building them on first use.
func (m *Manager) ClientsFor(name string) (*Clients, error) {
	m.mu.RLock()
	if c, ok := m.clients[name]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	_, known := m.contexts[name]
	m.mu.RUnlock()

	if !known {
		return nil, fmt.Errorf("unknown context: %s", name)
	}

	clients, err := m.factory(m.kubeconfigPath, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	// Another caller may have won the race; keep the first set.
	if existing, ok := m.clients[name]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.clients[name] = clients
	m.mu.Unlock()

	return clients, nil
}

// Reload re-reads the kubeconfig from disk.
func (m *Manager) Reload() (ReloadResult, error) {
	cfg, err := loadConfig(m.kubeconfigPath)
	if err != nil {
		return ReloadResult{}, err
	}
	return m.Replace(*cfg), nil
}

// Replace swaps the context set wholesale and drops clients of contexts
// whose connection settings changed.
func (m *Manager) Replace(cfg api.Config) ReloadResult {
	next := contextsFrom(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	var res ReloadResult
	if len(next) != len(m.contexts) {
		res.ContextsChanged = true
	}
	for name, old := range m.contexts {
		cur, ok := next[name]
		if !ok {
			res.ContextsChanged = true
			delete(m.clients, name)
			continue
		}
		if cur.Server != old.Server || cur.AuthInfo != old.AuthInfo {
			delete(m.clients, name)
		}
		if cur.Namespace != old.Namespace {
			res.NamespaceChanged = append(res.NamespaceChanged, name)
		}
	}
	for name := range next {
		if _, ok := m.contexts[name]; !ok {
			res.ContextsChanged = true
		}
	}
	sort.Strings(res.NamespaceChanged)
	m.contexts = next
	return res
}

func (m *Manager) buildClients(path, name string) (*Clients, error) {
	// Exec plugins are honoured by the deferred loader, so OIDC contexts work.
	overrides := &clientcmd.ConfigOverrides{CurrentContext: name}
	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: path}
	cc := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	restCfg, err := cc.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build rest config: %w", err)
	}
	restCfg.QPS = 50
	restCfg.Burst = 100
	restCfg.Timeout = m.timeout

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("new clientset: %w", err)
	}

	dyn, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("new dynamic client: %w", err)
	}

	return &Clients{
		RestConfig: restCfg,
		Clientset:  clientset,
		Discovery:  clientset.Discovery(),
		Dynamic:    dyn,
	}, nil
}
