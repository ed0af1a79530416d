package tree

import (
	"context"
	"errors"

	"kexplorer/internal/kube"
)

// ErrStaleSelection is returned to a Select call overtaken by a newer one.
var ErrStaleSelection = errors.New("selection superseded by a newer request")

type Selection struct {
	NodeID          string `json:"nodeId"`
	Context         string `json:"context"`
	Kind            string `json:"kind"`
	APIVersion      string `json:"apiVersion"`
	Namespace       string `json:"namespace,omitempty"`
	Name            string `json:"name"`
	ResourceVersion string `json:"resourceVersion"`
	YAML            string `json:"yaml"`
	Generation      uint64 `json:"generation"`
}

// Select loads the YAML of a resource node. Only the most recent request
// wins: the underlying fetch is not cancelled, its result is dropped.
func (e *Engine) Select(ctx context.Context, n Node) (Selection, error) {
	gen := e.selGen.Add(1)

	sel, err := e.load(ctx, n)
	sel.Generation = gen

	e.selMu.Lock()
	defer e.selMu.Unlock()
	if e.selGen.Load() != gen {
		return Selection{}, ErrStaleSelection
	}
	if err != nil {
		return Selection{}, err
	}
	e.current = &sel
	return sel, nil
}

// Current returns the latest successful selection.
func (e *Engine) Current() (Selection, bool) {
	e.selMu.Lock()
	defer e.selMu.Unlock()
	if e.current == nil {
		return Selection{}, false
	}
	return *e.current, true
}

func (e *Engine) load(ctx context.Context, n Node) (Selection, error) {
	if !n.Editable() {
		return Selection{}, &kube.Error{Type: kube.ErrValidationFailed, Message: "node does not address a cluster resource"}
	}
	info, err := kube.LookupKind(n.Kind, n.APIVersion, n.Namespace != "")
	if err != nil {
		return Selection{}, err
	}
	clients, err := e.clientsFor(n.Context)
	if err != nil {
		return Selection{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	obj, err := kube.GetResource(ctx, clients, info, n.Namespace, n.Name)
	if err != nil {
		return Selection{}, err
	}
	text, err := kube.ResourceYAML(obj)
	if err != nil {
		return Selection{}, err
	}
	return Selection{
		NodeID:          n.ID,
		Context:         n.Context,
		Kind:            n.Kind,
		APIVersion:      n.APIVersion,
		Namespace:       n.Namespace,
		Name:            n.Name,
		ResourceVersion: obj.GetResourceVersion(),
		YAML:            text,
	}, nil
}
