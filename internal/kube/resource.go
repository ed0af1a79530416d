package kube

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
	"sigs.k8s.io/yaml"

	"kexplorer/internal/cluster"
)

// FieldManager is the server-side apply manager name for every write.
const FieldManager = "kexplorer"

func resourceClient(c *cluster.Clients, info KindInfo, namespace string) (dynamic.ResourceInterface, error) {
	if c.Dynamic == nil {
		return nil, &Error{Type: ErrClientUnavailable, Message: "dynamic client is not configured"}
	}
	nri := c.Dynamic.Resource(info.GVR())
	if info.Namespaced && namespace != "" {
		return nri.Namespace(namespace), nil
	}
	return nri, nil
}

func GetResource(ctx context.Context, c *cluster.Clients, info KindInfo, namespace, name string) (*unstructured.Unstructured, error) {
	rc, err := resourceClient(c, info, namespace)
	if err != nil {
		return nil, err
	}
	obj, err := rc.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, Classify(err)
	}
	return obj, nil
}

// ApplyResource server-side applies obj, forcing ownership of conflicting
// fields. With dryRun the API server validates and admits without persisting.
func ApplyResource(ctx context.Context, c *cluster.Clients, info KindInfo, namespace string, obj *unstructured.Unstructured, dryRun bool) (*unstructured.Unstructured, error) {
	rc, err := resourceClient(c, info, namespace)
	if err != nil {
		return nil, err
	}
	opts := metav1.ApplyOptions{FieldManager: FieldManager, Force: true}
	if dryRun {
		opts.DryRun = []string{metav1.DryRunAll}
	}
	out, err := rc.Apply(ctx, obj.GetName(), obj, opts)
	if err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

// ResourceYAML renders obj for editing, without managedFields.
func ResourceYAML(obj *unstructured.Unstructured) (string, error) {
	cp := obj.DeepCopy()
	cp.SetManagedFields(nil)
	b, err := yaml.Marshal(cp.Object)
	if err != nil {
		return "", fmt.Errorf("marshal %s/%s: %w", cp.GetKind(), cp.GetName(), err)
	}
	return string(b), nil
}
