package kube

import (
	"context"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

const ArgoGroupVersion = "argoproj.io/v1alpha1"

var argoApplicationGVR = schema.GroupVersionResource{
	Group:    "argoproj.io",
	Version:  "v1alpha1",
	Resource: "applications",
}

// ArgoCDInstalled reports whether the cluster serves the Argo CD Application API.
func ArgoCDInstalled(c *cluster.Clients) (bool, error) {
	res, err := c.Discovery.ServerResourcesForGroupVersion(ArgoGroupVersion)
	if err != nil {
		if TypeOf(err) == ErrNotFound {
			return false, nil
		}
		return false, Classify(err)
	}
	for _, r := range res.APIResources {
		if r.Name == argoApplicationGVR.Resource {
			return true, nil
		}
	}
	return false, nil
}

// ListArgoApplications lists Argo CD applications; Status is "sync/health".
func ListArgoApplications(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	if c.Dynamic == nil {
		return nil, &Error{Type: ErrClientUnavailable, Message: "dynamic client is not configured"}
	}
	list, err := c.Dynamic.Resource(argoApplicationGVR).Namespace(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(list.Items))
	for _, item := range list.Items {
		sync, _, _ := unstructured.NestedString(item.Object, "status", "sync", "status")
		health, _, _ := unstructured.NestedString(item.Object, "status", "health", "status")
		repo, _, _ := unstructured.NestedString(item.Object, "spec", "source", "repoURL")
		if sync == "" {
			sync = "Unknown"
		}
		if health == "" {
			health = "Unknown"
		}
		out = append(out, dto.ResourceItemDTO{
			Kind:        "Application",
			APIVersion:  ArgoGroupVersion,
			Name:        item.GetName(),
			Namespace:   item.GetNamespace(),
			Status:      sync + "/" + health,
			Description: repo,
			AgeSec:      ageSec(now, item.GetCreationTimestamp()),
		})
	}
	sortItems(out)
	return out, nil
}
