package tree

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	k8stesting "k8s.io/client-go/testing"
)

func unstructuredPod(ns, name, rv string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]interface{}{
			"name":            name,
			"namespace":       ns,
			"resourceVersion": rv,
		},
	}}
}

func podNode(contextName, ns, name string) Node {
	return Node{
		ID:         NodeID(contextName, "pod", name, ns),
		Type:       "pod",
		Context:    contextName,
		Kind:       "Pod",
		APIVersion: "v1",
		Name:       name,
		Namespace:  ns,
	}
}

func TestSelect_LoadsYAML(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		namespaces: map[string]string{"prod": ""},
		dynamic:    map[string][]runtime.Object{"prod": {unstructuredPod("default", "web-1", "17")}},
	})

	sel, err := h.e.Select(context.Background(), podNode("prod", "default", "web-1"))
	require.NoError(t, err)
	assert.Equal(t, "17", sel.ResourceVersion)
	assert.Contains(t, sel.YAML, "name: web-1")

	cur, ok := h.e.Current()
	require.True(t, ok)
	assert.Equal(t, sel, cur)
}

func TestSelect_RejectsNonResourceNodes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{namespaces: map[string]string{"prod": ""}})
	_, err := h.e.Select(context.Background(), *h.category("prod", CatNodes))
	assert.Error(t, err)
	_, ok := h.e.Current()
	assert.False(t, ok)
}

func TestSelect_RapidSwitchShowsOnlyLatest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fixture{
		namespaces: map[string]string{"prod": "", "staging": ""},
		dynamic: map[string][]runtime.Object{
			"prod":    {unstructuredPod("default", "pod-a", "1")},
			"staging": {unstructuredPod("default", "pod-b", "2")},
		},
	})

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.dyn["prod"].PrependReactor("get", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return false, nil, nil
	})

	type result struct {
		sel Selection
		err error
	}
	aDone := make(chan result, 1)
	go func() {
		sel, err := h.e.Select(context.Background(), podNode("prod", "default", "pod-a"))
		aDone <- result{sel, err}
	}()
	<-entered

	b, err := h.e.Select(context.Background(), podNode("staging", "default", "pod-b"))
	require.NoError(t, err)
	assert.Equal(t, "pod-b", b.Name)

	close(release)
	a := <-aDone
	assert.ErrorIs(t, a.err, ErrStaleSelection)

	cur, ok := h.e.Current()
	require.True(t, ok)
	assert.Equal(t, "pod-b", cur.Name)
	assert.Equal(t, b.Generation, cur.Generation)
}
