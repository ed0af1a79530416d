package edit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	clocktesting "k8s.io/utils/clock/testing"

	"kexplorer/internal/events"
	"kexplorer/internal/kube"
)

// fakeClient keeps objects in memory. Every non dry-run apply bumps the
// resourceVersion.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string]*unstructured.Unstructured
	rv      int

	gets    atomic.Int32
	dryRuns atomic.Int32
	applies atomic.Int32

	getErr    error
	dryRunErr error
	applyErr  error
	// block, when set, is received from before Get returns.
	block   chan struct{}
	entered chan struct{}

	lastApplied *unstructured.Unstructured
}

func newFakeClient(objs ...*unstructured.Unstructured) *fakeClient {
	f := &fakeClient{objects: map[string]*unstructured.Unstructured{}, rv: 100}
	for _, o := range objs {
		f.objects[o.GetNamespace()+"/"+o.GetName()] = o.DeepCopy()
	}
	return f
}

func (f *fakeClient) Get(_ context.Context, id ResourceID) (*unstructured.Unstructured, error) {
	f.gets.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	obj, ok := f.objects[id.Namespace+"/"+id.Name]
	if !ok {
		return nil, &kube.Error{Type: kube.ErrNotFound, Message: "resource not found"}
	}
	return obj.DeepCopy(), nil
}

func (f *fakeClient) Apply(_ context.Context, id ResourceID, obj *unstructured.Unstructured, dryRun bool) (*unstructured.Unstructured, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dryRun {
		f.dryRuns.Add(1)
		if f.dryRunErr != nil {
			return nil, f.dryRunErr
		}
		return obj.DeepCopy(), nil
	}
	f.applies.Add(1)
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.lastApplied = obj.DeepCopy()
	out := obj.DeepCopy()
	f.rv++
	out.SetResourceVersion(strconv.Itoa(f.rv))
	f.objects[id.Namespace+"/"+id.Name] = out
	return out.DeepCopy(), nil
}

// touch simulates a change made by someone else.
func (f *fakeClient) touch(ns, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rv++
	rv := strconv.Itoa(f.rv)
	obj := f.objects[ns+"/"+name]
	obj.SetResourceVersion(rv)
	unstructured.SetNestedField(obj.Object, "changed", "data", "mode")
	return rv
}

type fakeReviewer struct {
	mu      sync.Mutex
	allowed map[string]bool
	err     map[string]error
	calls   atomic.Int32
}

func allowAll() *fakeReviewer {
	return &fakeReviewer{allowed: map[string]bool{"update": true, "get": true}, err: map[string]error{}}
}

func allowVerbs(verbs ...string) *fakeReviewer {
	r := &fakeReviewer{allowed: map[string]bool{}, err: map[string]error{}}
	for _, v := range verbs {
		r.allowed[v] = true
	}
	return r
}

func (r *fakeReviewer) Review(_ context.Context, _ string, req kube.AccessReviewRequest) (kube.AccessReviewResult, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err[req.Verb]; err != nil {
		return kube.AccessReviewResult{}, err
	}
	if r.allowed[req.Verb] {
		return kube.AccessReviewResult{Allowed: true}, nil
	}
	return kube.AccessReviewResult{Denied: true}, nil
}

type recordingRefresher struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRefresher) RefreshContext(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recordingRefresher) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func configMap(rv string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata": map[string]interface{}{
			"name":              "settings",
			"namespace":         "default",
			"uid":               "6b1c",
			"resourceVersion":   rv,
			"creationTimestamp": "2024-01-01T00:00:00Z",
		},
		"data": map[string]interface{}{"mode": "fast"},
	}}
	return obj
}

var settingsID = ResourceID{Cluster: "prod", Namespace: "default", Kind: "ConfigMap", Name: "settings", APIVersion: "v1"}

type editHarness struct {
	c         *Coordinator
	client    *fakeClient
	reviewer  *fakeReviewer
	clk       *clocktesting.FakeClock
	bus       *events.Bus
	events    <-chan events.Event
	refresher *recordingRefresher
}

func newEditHarness(t *testing.T, client *fakeClient, reviewer *fakeReviewer) *editHarness {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	_, ch := bus.Subscribe(16)
	ref := &recordingRefresher{}
	log := logr.Discard()
	perms := NewPermissionChecker(reviewer, clk, log)
	det := NewConflictDetector(client, bus, clk, log)
	c := NewCoordinator(client, perms, det, bus, log, WithRefresher(ref), WithCoordinatorClock(clk))
	t.Cleanup(func() {
		c.CloseAll()
		bus.Close()
	})
	return &editHarness{c: c, client: client, reviewer: reviewer, clk: clk, bus: bus, events: ch, refresher: ref}
}
