package tree

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/client-go/tools/clientcmd/api"
	clocktesting "k8s.io/utils/clock/testing"

	"kexplorer/internal/cluster"
	"kexplorer/internal/events"
	"kexplorer/internal/status"
)

type fakeChecker struct {
	mu   sync.Mutex
	conn map[string]status.ClusterStatus
	op   map[string]status.OperatorStatus
	argo map[string]bool
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{
		conn: map[string]status.ClusterStatus{},
		op:   map[string]status.OperatorStatus{},
		argo: map[string]bool{},
	}
}

func (f *fakeChecker) setOperator(name string, mode status.OperatorMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.op[name] = status.OperatorStatus{Mode: mode}
}

func (f *fakeChecker) Connectivity(_ context.Context, c *cluster.Clients) (status.ClusterStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.conn[c.RestConfig.Host]; ok {
		return st, nil
	}
	return status.Connected, nil
}

func (f *fakeChecker) OperatorStatus(_ context.Context, c *cluster.Clients) (status.OperatorStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.op[c.RestConfig.Host]; ok {
		return st, nil
	}
	return status.OperatorStatus{Mode: status.ModeBasic}, nil
}

func (f *fakeChecker) ArgoCD(_ context.Context, c *cluster.Clients) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.argo[c.RestConfig.Host], nil
}

type harness struct {
	e       *Engine
	clk     *clocktesting.FakeClock
	events  <-chan events.Event
	checker *fakeChecker
	cs      map[string]*fake.Clientset
	dyn     map[string]*dynamicfake.FakeDynamicClient
	mgr     *cluster.Manager
}

type fixture struct {
	namespaces map[string]string
	objects    map[string][]runtime.Object
	dynamic    map[string][]runtime.Object
	layout     Layout
	brokenCtx  string
}

func newHarness(t *testing.T, fx fixture) *harness {
	t.Helper()

	cfg := api.NewConfig()
	h := &harness{
		clk:     clocktesting.NewFakeClock(time.Now()),
		checker: newFakeChecker(),
		cs:      map[string]*fake.Clientset{},
		dyn:     map[string]*dynamicfake.FakeDynamicClient{},
	}
	for name, ns := range fx.namespaces {
		cfg.Clusters[name] = &api.Cluster{Server: "https://" + name}
		cfg.AuthInfos[name] = &api.AuthInfo{}
		cfg.Contexts[name] = &api.Context{Cluster: name, AuthInfo: name, Namespace: ns}
		h.cs[name] = fake.NewClientset(fx.objects[name]...)
		h.dyn[name] = dynamicfake.NewSimpleDynamicClient(runtime.NewScheme(), fx.dynamic[name]...)
	}

	h.mgr = cluster.NewManagerFromConfig("", *cfg, cluster.WithClientFactory(func(_, name string) (*cluster.Clients, error) {
		if name == fx.brokenCtx {
			return nil, errors.New("exec: \"kubelogin\": executable file not found in $PATH")
		}
		cs := h.cs[name]
		return &cluster.Clients{
			RestConfig: &rest.Config{Host: name},
			Clientset:  cs,
			Discovery:  cs.Discovery(),
			Dynamic:    h.dyn[name],
		}, nil
	}))

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	_, h.events = bus.Subscribe(256)

	h.e = NewEngine(h.mgr, h.checker, bus, logr.Discard(), WithClock(h.clk), WithLayout(fx.layout), WithRequestTimeout(5*time.Second))
	return h
}

// expectEvent waits for an event matching kind and scope, skipping others.
func (h *harness) expectEvent(t *testing.T, kind events.Kind, scope string) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == kind && (kind != events.KindTreeChanged || ev.Scope == scope) {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event for scope %q", kind, scope)
			return events.Event{}
		}
	}
}

func (h *harness) drain() {
	for {
		select {
		case <-h.events:
		default:
			return
		}
	}
}

func (h *harness) category(contextName, slug string) *Node {
	return &Node{ID: NodeID(contextName, TypeCategory, slug, ""), Type: TypeCategory, Context: contextName, Name: slug}
}

func (h *harness) subcategory(contextName, slug string) *Node {
	return &Node{ID: NodeID(contextName, TypeSubcategory, slug, ""), Type: TypeSubcategory, Context: contextName, Name: slug}
}

func countLists(cs *fake.Clientset, resource string) *atomic.Int32 {
	var n atomic.Int32
	cs.PrependReactor("list", resource, func(k8stesting.Action) (bool, runtime.Object, error) {
		n.Add(1)
		return false, nil, nil
	})
	return &n
}

func labels(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Label)
	}
	return out
}

func testNode(name string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
			{Type: corev1.NodeReady, Status: corev1.ConditionTrue},
		}},
	}
}

func testPod(ns, name string, lbls map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name, Labels: lbls},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	}
}

func TestGetRootNodes_FoldersOrderAndAliases(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		namespaces: map[string]string{"prod": "", "staging": "", "dev": "", "lab": "", "edge": ""},
		layout: Layout{
			Folders:      []Folder{{Name: "Production", Contexts: []string{"prod", "missing"}}, {Name: "Empty", Contexts: []string{"gone"}}},
			ClusterOrder: []string{"staging", "dev"},
			Aliases:      map[string]string{"lab": "Lab Cluster"},
		},
	})

	roots := h.e.GetRootNodes()
	require.Len(t, roots, 5)
	assert.Equal(t, TypeFolder, roots[0].Type)
	assert.Equal(t, FolderID("Production"), roots[0].ID)
	assert.Equal(t, []string{"Production", "staging", "dev", "edge", "Lab Cluster"}, labels(roots))

	inFolder := h.e.GetChildren(context.Background(), &roots[0])
	require.Len(t, inFolder, 1)
	assert.Equal(t, ClusterID("prod"), inFolder[0].ID)

	got, ok := h.e.Lookup(ClusterID("lab"))
	require.True(t, ok)
	assert.Equal(t, "Lab Cluster", got.Label)
}

func TestGetChildren_ReportsOnlyWhenOperatorNotBasic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": "", "staging": ""}})
	h.checker.setOperator("prod", status.ModeBasic)
	h.checker.setOperator("staging", status.ModeEnabled)

	ctx := context.Background()
	prod := h.e.GetRootNodes()[0]
	staging := h.e.GetRootNodes()[1]
	require.Equal(t, "prod", prod.Context)

	// First expansion never waits for status: no Reports yet.
	first := h.e.GetChildren(ctx, &staging)
	assert.Equal(t, "Dashboard", first[0].Label)
	assert.Equal(t, "Nodes", first[1].Label)
	h.e.GetChildren(ctx, &prod)

	h.expectEvent(t, events.KindTreeChanged, ClusterID("staging"))
	h.e.bg.Wait()

	stagingChildren := h.e.GetChildren(ctx, &staging)
	assert.Equal(t, []string{"Dashboard", "Reports", "Nodes", "Namespaces", "Workloads", "Networking",
		"Storage", "Configuration", "Helm", "Custom Resources"}, labels(stagingChildren))

	prodChildren := h.e.GetChildren(ctx, &prod)
	assert.NotContains(t, labels(prodChildren), "Reports")
	assert.NotContains(t, labels(prodChildren), "Events")

	reports := h.e.GetChildren(ctx, &stagingChildren[1])
	require.Len(t, reports, 1)
	assert.Equal(t, "Events", reports[0].Label)
	assert.Equal(t, TypeSubcategory, reports[0].Type)

	root := h.e.GetRootNodes()[1]
	assert.Equal(t, string(status.ModeEnabled), root.OperatorMode)
	assert.Equal(t, "Connected", root.Status)
	assert.Equal(t, string(status.ModeEnabled), root.Display)
}

func TestClusterDisplayPrefersOperatorMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": "", "staging": ""}})
	h.checker.setOperator("prod", status.ModeDegraded)
	h.checker.mu.Lock()
	h.checker.conn["prod"] = status.Disconnected
	h.checker.mu.Unlock()

	prod := h.e.GetRootNodes()[0]
	assert.Equal(t, "Unknown", prod.Display, "nothing is known before the first expansion")

	h.e.GetChildren(context.Background(), &prod)
	h.e.bg.Wait()

	roots := h.e.GetRootNodes()
	assert.Equal(t, "Disconnected", roots[0].Status)
	assert.Equal(t, string(status.ModeDegraded), roots[0].Display)
	assert.Equal(t, "Unknown", roots[1].Display)

	h.e.operatorStatus.Delete("prod")
	assert.Equal(t, "Disconnected", h.e.GetRootNodes()[0].Display)
}

func TestGetChildren_ArgoCDCategoryWhenDetected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": ""}})
	h.checker.argo["prod"] = true

	prod := h.e.GetRootNodes()[0]
	h.e.GetChildren(context.Background(), &prod)
	h.e.bg.Wait()

	got := labels(h.e.GetChildren(context.Background(), &prod))
	assert.Equal(t, "ArgoCD Applications", got[len(got)-2])
	assert.Equal(t, "Custom Resources", got[len(got)-1])
}

func TestPrimaryCollections_TTL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		namespaces: map[string]string{"prod": ""},
		objects:    map[string][]runtime.Object{"prod": {testNode("node-1")}},
	})
	nodeLists := countLists(h.cs["prod"], "nodes")
	podLists := countLists(h.cs["prod"], "pods")
	ctx := context.Background()

	got := h.e.GetChildren(ctx, h.category("prod", CatNodes))
	require.Len(t, got, 1)
	assert.Equal(t, "node-1", got[0].Label)
	assert.Equal(t, "Ready", got[0].Status)
	h.e.bg.Wait()
	// One live list plus the background pre-fetch.
	assert.Equal(t, int32(2), nodeLists.Load())
	assert.Equal(t, int32(1), podLists.Load())

	h.e.GetChildren(ctx, h.category("prod", CatNodes))
	h.e.GetChildren(ctx, h.subcategory("prod", CatPods))
	assert.Equal(t, int32(2), nodeLists.Load())
	assert.Equal(t, int32(1), podLists.Load(), "pods are served from the pre-fetched set")

	h.clk.Step(30 * time.Second)
	h.e.GetChildren(ctx, h.category("prod", CatNodes))
	h.e.bg.Wait()
	assert.Equal(t, int32(4), nodeLists.Load(), "expired entry must be bypassed")
}

func TestPrefetch_InvalidationWinsOverInFlightFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": ""}})
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.cs["prod"].PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return false, nil, nil
	})

	h.e.GetChildren(context.Background(), h.category("prod", CatNodes))
	<-entered
	h.e.OnNamespaceChanged("prod")
	close(release)
	h.e.bg.Wait()

	_, ok := h.e.resources.Get("prod")
	assert.False(t, ok)
}

func TestOnNamespaceChanged_IsScopedToOneContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": "", "staging": ""}})
	ctx := context.Background()
	h.e.GetChildren(ctx, h.category("prod", CatNodes))
	h.e.GetChildren(ctx, h.category("staging", CatNodes))
	h.e.bg.Wait()
	h.drain()

	h.e.OnNamespaceChanged("prod")

	ev := h.expectEvent(t, events.KindTreeChanged, ClusterID("prod"))
	assert.Equal(t, "prod/cluster/prod", ev.Scope)
	_, ok := h.e.resources.Get("prod")
	assert.False(t, ok)
	_, ok = h.e.resources.Get("staging")
	assert.True(t, ok)
}

func TestHandleReload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": ""}})
	h.e.HandleReload(cluster.ReloadResult{NamespaceChanged: []string{"prod"}, ContextsChanged: true})

	h.expectEvent(t, events.KindTreeChanged, ClusterID("prod"))
	h.expectEvent(t, events.KindTreeChanged, "")
}

func TestRefresh_ClearsEverythingAndRunsHooks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": ""}})
	var hooked atomic.Bool
	h.e.AddRefreshHook(func() { hooked.Store(true) })

	prod := h.e.GetRootNodes()[0]
	h.e.GetChildren(context.Background(), &prod)
	h.e.GetChildren(context.Background(), h.category("prod", CatNodes))
	h.e.bg.Wait()
	h.drain()

	h.e.Refresh()

	h.expectEvent(t, events.KindTreeChanged, "")
	assert.True(t, hooked.Load())
	_, ok := h.e.resources.Get("prod")
	assert.False(t, ok)
	_, ok = h.e.clusterStatus.Get("prod")
	assert.False(t, ok)
	_, ok = h.e.operatorStatus.Get("prod")
	assert.False(t, ok)
}

func TestRefreshScoped_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		namespaces: map[string]string{"prod": "default"},
		objects: map[string][]runtime.Object{"prod": {
			testPod("default", "web-1", nil), testPod("default", "web-2", nil),
		}},
	})
	pods := h.subcategory("prod", CatPods)

	h.e.RefreshScoped(*pods)
	first := h.e.GetChildren(context.Background(), pods)
	h.e.bg.Wait()
	h.e.RefreshScoped(*pods)
	second := h.e.GetChildren(context.Background(), pods)
	h.e.bg.Wait()

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"web-1", "web-2"}, labels(first))
	h.expectEvent(t, events.KindTreeChanged, pods.ID)
}

func TestWorkloadPodsFollowSelector(t *testing.T) {
	t.Parallel()

	one := int32(1)
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "web"},
		Spec: appsv1.DeploymentSpec{
			Replicas: &one,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "web"}},
		},
	}
	h := newHarness(t, fixture{
		namespaces: map[string]string{"prod": ""},
		objects: map[string][]runtime.Object{"prod": {
			dep,
			testPod("default", "web-1", map[string]string{"app": "web"}),
			testPod("default", "db-1", map[string]string{"app": "db"}),
			testPod("other", "web-x", map[string]string{"app": "web"}),
		}},
	})
	ctx := context.Background()

	deps := h.e.GetChildren(ctx, h.subcategory("prod", CatDeployments))
	require.Len(t, deps, 1)
	require.True(t, deps[0].Expandable)
	assert.Equal(t, "prod/deployment/web/default", deps[0].ID)

	pods := h.e.GetChildren(ctx, &deps[0])
	require.Len(t, pods, 1)
	assert.Equal(t, "web-1", pods[0].Name)
	assert.Equal(t, "prod/deployment-pod/web-1/default", pods[0].ID)
	assert.Equal(t, "Pod", pods[0].Kind)
}

func TestCategoryFailureIsIsolated(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": ""}})
	h.cs["prod"].PrependReactor("list", "deployments", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Group: "apps", Resource: "deployments"}, "", errors.New("rbac"))
	})
	ctx := context.Background()

	got := h.e.GetChildren(ctx, h.subcategory("prod", CatDeployments))
	require.Len(t, got, 1)
	assert.Equal(t, TypeError, got[0].Type)
	assert.Equal(t, "PermissionDenied", got[0].Error)
	assert.Equal(t, "prod/error/deployments", got[0].ID)
	ev := h.expectEvent(t, events.KindNotice, "")
	assert.Equal(t, events.LevelWarning, ev.Level)

	siblings := h.e.GetChildren(ctx, h.subcategory("prod", CatStatefulSets))
	require.Len(t, siblings, 1)
	assert.Equal(t, TypeInfo, siblings[0].Type)
}

func TestClientUnavailableSurfacesOncePerSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": ""}, brokenCtx: "prod"})
	ctx := context.Background()

	for _, slug := range []string{CatNodes, CatNamespaces, CatHelm} {
		got := h.e.GetChildren(ctx, h.category("prod", slug))
		require.Len(t, got, 1)
		assert.Equal(t, "ClientUnavailable", got[0].Error)
	}

	notices := 0
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == events.KindNotice {
				notices++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, notices)
}

func TestConnectionFailuresAreNotSurfaced(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": ""}})
	h.cs["prod"].PrependReactor("list", "services", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("dial tcp 10.1.1.1:443: connect: connection refused")
	})

	got := h.e.GetChildren(context.Background(), h.subcategory("prod", CatServices))
	require.Len(t, got, 1)
	assert.Equal(t, "ConnectionFailed", got[0].Error)
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestRecheckStatusesPublishesOnlyChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": "", "staging": ""}})
	prod := h.e.GetRootNodes()[0]
	h.e.GetChildren(context.Background(), &prod)
	h.e.bg.Wait()
	h.drain()

	h.e.RecheckStatuses(context.Background())
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	h.checker.mu.Lock()
	h.checker.conn["prod"] = status.Disconnected
	h.checker.mu.Unlock()
	h.e.RecheckStatuses(context.Background())
	h.expectEvent(t, events.KindTreeChanged, ClusterID("prod"))

	n, _ := h.e.Lookup(ClusterID("prod"))
	assert.Equal(t, "Unknown", n.Status, "lookup returns the node as last handed out")
	assert.Equal(t, "Disconnected", h.e.GetRootNodes()[0].Status)

	// staging was never expanded, so it is not polled.
	_, ok := h.e.clusterStatus.Get("staging")
	assert.False(t, ok)
}
