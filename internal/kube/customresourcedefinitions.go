package kube

import (
	"context"
	"fmt"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

var crdGVR = schema.GroupVersionResource{
	Group:    "apiextensions.k8s.io",
	Version:  "v1",
	Resource: "customresourcedefinitions",
}

// ListCustomResourceDefinitions lists CRDs as items of kind
// CustomResourceDefinition; Description carries the served versions.
func ListCustomResourceDefinitions(ctx context.Context, c *cluster.Clients) ([]dto.ResourceItemDTO, error) {
	if c.Dynamic == nil {
		return nil, &Error{Type: ErrClientUnavailable, Message: "dynamic client is not configured"}
	}
	list, err := c.Dynamic.Resource(crdGVR).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(list.Items))
	for _, item := range list.Items {
		status := "NotEstablished"
		if crdIsEstablished(item.Object) {
			status = "Established"
		}
		kind, _, _ := unstructured.NestedString(item.Object, "spec", "names", "kind")
		out = append(out, dto.ResourceItemDTO{
			Kind:        "CustomResourceDefinition",
			APIVersion:  "apiextensions.k8s.io/v1",
			Name:        item.GetName(),
			Status:      status,
			Description: fmt.Sprintf("%s %s", kind, crdVersionsCompact(item.Object)),
			AgeSec:      ageSec(now, item.GetCreationTimestamp()),
		})
	}
	sortItems(out)
	return out, nil
}

// crdVersionsCompact returns a compact string like "v1 (served, storage), v1beta1 (served)".
func crdVersionsCompact(obj map[string]interface{}) string {
	versions, found, err := unstructured.NestedSlice(obj, "spec", "versions")
	if err != nil || !found || len(versions) == 0 {
		return "-"
	}

	parts := make([]string, 0, len(versions))
	for _, v := range versions {
		vm, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		vName, _, _ := unstructured.NestedString(vm, "name")
		if vName == "" {
			continue
		}

		var flags []string
		if served, _, _ := unstructured.NestedBool(vm, "served"); served {
			flags = append(flags, "served")
		}
		if storage, _, _ := unstructured.NestedBool(vm, "storage"); storage {
			flags = append(flags, "storage")
		}

		if len(flags) > 0 {
			parts = append(parts, fmt.Sprintf("%s (%s)", vName, strings.Join(flags, ", ")))
		} else {
			parts = append(parts, vName)
		}
	}

	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func crdIsEstablished(obj map[string]interface{}) bool {
	conditions, found, err := unstructured.NestedSlice(obj, "status", "conditions")
	if err != nil || !found {
		return false
	}
	for _, c := range conditions {
		cm, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		t, _, _ := unstructured.NestedString(cm, "type")
		s, _, _ := unstructured.NestedString(cm, "status")
		if t == "Established" && s == "True" {
			return true
		}
	}
	return false
}
