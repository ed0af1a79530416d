package tree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"kexplorer/internal/cache"
	"kexplorer/internal/cluster"
	"kexplorer/internal/events"
	"kexplorer/internal/status"
)

// ClusterSource provides contexts and their clients. *cluster.Manager
// satisfies it.
type ClusterSource interface {
	Contexts() []cluster.ClusterContext
	Context(name string) (cluster.ClusterContext, bool)
	ClientsFor(name string) (*cluster.Clients, error)
}

// StatusChecker runs the per-cluster background checks. *status.Checker
// satisfies it.
type StatusChecker interface {
	Connectivity(ctx context.Context, c *cluster.Clients) (status.ClusterStatus, error)
	OperatorStatus(ctx context.Context, c *cluster.Clients) (status.OperatorStatus, error)
	ArgoCD(ctx context.Context, c *cluster.Clients) (bool, error)
}

// Engine serves the explorer tree lazily from a short lived per-context cache.
type Engine struct {
	sources ClusterSource
	checker StatusChecker
	bus     events.Publisher
	log     logr.Logger
	clock   clock.PassiveClock
	timeout time.Duration

	layoutMu sync.RWMutex
	layout   Layout

	resources      *cache.Resources
	clusterStatus  *cache.Store[status.ClusterStatus]
	operatorStatus *cache.Store[status.OperatorStatus]
	argo           *cache.Store[bool]
	// reported remembers contexts whose missing client was already surfaced.
	reported *cache.Store[bool]

	prefetches singleflight.Group
	checks     singleflight.Group
	bg         sync.WaitGroup

	nodesMu sync.RWMutex
	nodes   map[string]Node

	hooksMu      sync.Mutex
	refreshHooks []func()

	selGen  atomic.Uint64
	selMu   sync.Mutex
	current *Selection
}

type Option func(*Engine)

func WithClock(clk clock.PassiveClock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithRequestTimeout bounds every cluster call made by the engine.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

func WithLayout(l Layout) Option {
	return func(e *Engine) { e.layout = l }
}

func NewEngine(src ClusterSource, checker StatusChecker, bus events.Publisher, log logr.Logger, opts ...Option) *Engine {
	e := &Engine{
		sources: src,
		checker: checker,
		bus:     bus,
		log:     log.WithName("tree"),
		clock:   clock.RealClock{},
		timeout: 10 * time.Second,
		nodes:   map[string]Node{},
	}
	for _, o := range opts {
		o(e)
	}
	e.resources = cache.NewResources(e.clock)
	e.clusterStatus = cache.NewStore[status.ClusterStatus](e.clock, 0)
	e.operatorStatus = cache.NewStore[status.OperatorStatus](e.clock, 0)
	e.argo = cache.NewStore[bool](e.clock, 0)
	e.reported = cache.NewStore[bool](e.clock, 0)
	return e
}

// SetLayout swaps folder, order and alias settings and redraws the tree.
func (e *Engine) SetLayout(l Layout) {
	e.layoutMu.Lock()
	e.layout = l
	e.layoutMu.Unlock()
	e.publish("")
}

func (e *Engine) currentLayout() Layout {
	e.layoutMu.RLock()
	defer e.layoutMu.RUnlock()
	return e.layout
}

// AddRefreshHook registers fn to run on every manual Refresh. Owners of other
// caches use it to clear them together with the tree.
func (e *Engine) AddRefreshHook(fn func()) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.refreshHooks = append(e.refreshHooks, fn)
}

// Lookup returns a node previously handed out by GetRootNodes or GetChildren.
func (e *Engine) Lookup(id string) (Node, bool) {
	e.nodesMu.RLock()
	defer e.nodesMu.RUnlock()
	n, ok := e.nodes[id]
	return n, ok
}

func (e *Engine) remember(nodes []Node) []Node {
	e.nodesMu.Lock()
	for _, n := range nodes {
		e.nodes[n.ID] = n
	}
	e.nodesMu.Unlock()
	return nodes
}

func (e *Engine) publish(scope string) {
	if e.bus != nil {
		e.bus.Publish(events.TreeChanged(scope))
	}
}

func (e *Engine) notice(level events.Level, msg string) {
	if e.bus != nil {
		e.bus.Publish(events.Notice(level, msg))
	}
}

func (e *Engine) GetRootNodes() []Node {
	layout := e.currentLayout()
	folders, ungrouped := layout.arrange(e.sources.Contexts())

	out := make([]Node, 0, len(folders)+len(ungrouped))
	for _, f := range folders {
		out = append(out, Node{
			ID:         FolderID(f.Name),
			Type:       TypeFolder,
			Label:      f.Name,
			Name:       f.Name,
			Expandable: true,
		})
	}
	for _, name := range ungrouped {
		out = append(out, e.clusterNode(layout, name))
	}
	return e.remember(out)
}

// GetChildren expands n; a nil node means the root. Failures never escape:
// they become error nodes in place of the failed category.
func (e *Engine) GetChildren(ctx context.Context, n *Node) []Node {
	if n == nil {
		return e.GetRootNodes()
	}

	var out []Node
	switch n.Type {
	case TypeFolder:
		out = e.folderChildren(n.Name)
	case TypeCluster:
		e.ensureStatus(n.Context)
		out = e.categories(n.Context)
	case TypeCategory:
		def, ok := findCategory(n.Name)
		switch {
		case !ok:
			return nil
		case len(def.subs) > 0:
			out = subcategoryNodes(n.Context, def)
		default:
			out = e.fetchCategory(ctx, n.Context, n.Name)
		}
	case TypeSubcategory:
		out = e.fetchCategory(ctx, n.Context, n.Name)
	default:
		if len(n.Selector) > 0 {
			out = e.selectedPods(ctx, *n)
		}
	}
	return e.remember(out)
}

func (e *Engine) folderChildren(folder string) []Node {
	layout := e.currentLayout()
	folders, _ := layout.arrange(e.sources.Contexts())
	for _, f := range folders {
		if f.Name != folder {
			continue
		}
		out := make([]Node, 0, len(f.Contexts))
		for _, name := range f.Contexts {
			out = append(out, e.clusterNode(layout, name))
		}
		return out
	}
	return nil
}

func (e *Engine) clusterNode(layout Layout, name string) Node {
	n := Node{
		ID:         ClusterID(name),
		Type:       TypeCluster,
		Context:    name,
		Label:      layout.label(name),
		Name:       name,
		Expandable: true,
		Status:     status.Unknown.String(),
	}
	if cc, ok := e.sources.Context(name); ok {
		n.Description = cc.Server
	}
	if cs, ok := e.clusterStatus.Get(name); ok {
		n.Status = cs.String()
	}
	n.Display = n.Status
	if op, ok := e.operatorStatus.Get(name); ok && op.Mode != "" {
		n.OperatorMode = string(op.Mode)
		n.Display = n.OperatorMode
		n.Health = op.Health
		n.Description = operatorSummary(op)
	}
	return n
}

func operatorSummary(op status.OperatorStatus) string {
	s := string(op.Mode)
	switch {
	case op.Tier != "" && op.Version != "":
		s += fmt.Sprintf(" (%s, %s)", op.Tier, op.Version)
	case op.Version != "":
		s += fmt.Sprintf(" (%s)", op.Version)
	}
	if op.Error != "" {
		s += ": " + op.Error
	}
	return s
}

// categories returns the fixed category list of a cluster. Reports only
// appears once the operator mode is known and not Basic, ArgoCD only once
// detected.
func (e *Engine) categories(contextName string) []Node {
	defs := []categoryDef{dashboardDef}
	if op, ok := e.operatorStatus.Get(contextName); ok && op.ShowsReports() {
		defs = append(defs, reportsDef)
	}
	defs = append(defs, fixedCategories...)
	if found, ok := e.argo.Get(contextName); ok && found {
		defs = append(defs, argoDef)
	}
	defs = append(defs, customResourcesDef)

	out := make([]Node, 0, len(defs))
	for _, def := range defs {
		out = append(out, Node{
			ID:         NodeID(contextName, TypeCategory, def.slug, ""),
			Type:       TypeCategory,
			Context:    contextName,
			Label:      def.label,
			Name:       def.slug,
			Category:   def.slug,
			Expandable: !def.leaf,
		})
	}
	return out
}

func subcategoryNodes(contextName string, parent categoryDef) []Node {
	out := make([]Node, 0, len(parent.subs))
	for _, sub := range parent.subs {
		out = append(out, Node{
			ID:         NodeID(contextName, TypeSubcategory, sub.slug, ""),
			Type:       TypeSubcategory,
			Context:    contextName,
			Label:      sub.label,
			Name:       sub.slug,
			Category:   parent.slug,
			Expandable: true,
		})
	}
	return out
}

// Refresh is the only operation clearing every cache.
func (e *Engine) Refresh() {
	e.resources.Clear()
	e.clusterStatus.Clear()
	e.operatorStatus.Clear()
	e.argo.Clear()

	e.hooksMu.Lock()
	hooks := append([]func(){}, e.refreshHooks...)
	e.hooksMu.Unlock()
	for _, h := range hooks {
		h()
	}

	e.log.V(1).Info("full refresh")
	e.publish("")
}

// RefreshScoped drops the resource cache behind n and redraws only n.
// Status caches are kept.
func (e *Engine) RefreshScoped(n Node) {
	switch {
	case n.Type == TypeFolder:
		for _, name := range e.folderContexts(n.Name) {
			e.resources.Invalidate(name)
		}
	case n.Context != "":
		e.resources.Invalidate(n.Context)
	}
	e.publish(n.ID)
}

func (e *Engine) folderContexts(folder string) []string {
	folders, _ := e.currentLayout().arrange(e.sources.Contexts())
	for _, f := range folders {
		if f.Name == folder {
			return f.Contexts
		}
	}
	return nil
}

// RefreshContext invalidates one context and redraws its cluster node.
func (e *Engine) RefreshContext(contextName string) {
	e.resources.Invalidate(contextName)
	e.publish(ClusterID(contextName))
}

// OnNamespaceChanged handles a default namespace switch of one context.
func (e *Engine) OnNamespaceChanged(contextName string) {
	e.log.V(1).Info("namespace changed", "context", contextName)
	e.RefreshContext(contextName)
}

// HandleReload applies a kubeconfig reload. A changed context set redraws
// the whole tree without clearing caches.
func (e *Engine) HandleReload(res cluster.ReloadResult) {
	for _, name := range res.NamespaceChanged {
		e.OnNamespaceChanged(name)
	}
	if res.ContextsChanged {
		e.publish("")
	}
}
