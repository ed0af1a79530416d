package kube

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// KindInfo is the REST mapping of a kind the editor knows how to address.
type KindInfo struct {
	Kind       string
	Group      string
	Version    string
	Resource   string
	Namespaced bool
}

func (k KindInfo) GVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: k.Group, Version: k.Version, Resource: k.Resource}
}

func (k KindInfo) APIVersion() string {
	return schema.GroupVersion{Group: k.Group, Version: k.Version}.String()
}

var knownKinds = map[string]KindInfo{}

func init() {
	for _, k := range []KindInfo{
		{Kind: "Pod", Version: "v1", Namespaced: true},
		{Kind: "Service", Version: "v1", Namespaced: true},
		{Kind: "ConfigMap", Version: "v1", Namespaced: true},
		{Kind: "Secret", Version: "v1", Namespaced: true},
		{Kind: "ServiceAccount", Version: "v1", Namespaced: true},
		{Kind: "PersistentVolumeClaim", Version: "v1", Namespaced: true},
		{Kind: "Endpoints", Version: "v1", Namespaced: true},
		{Kind: "Event", Version: "v1", Namespaced: true},
		{Kind: "PersistentVolume", Version: "v1"},
		{Kind: "Namespace", Version: "v1"},
		{Kind: "Node", Version: "v1"},
		{Kind: "Deployment", Group: "apps", Version: "v1", Namespaced: true},
		{Kind: "StatefulSet", Group: "apps", Version: "v1", Namespaced: true},
		{Kind: "DaemonSet", Group: "apps", Version: "v1", Namespaced: true},
		{Kind: "ReplicaSet", Group: "apps", Version: "v1", Namespaced: true},
		{Kind: "Job", Group: "batch", Version: "v1", Namespaced: true},
		{Kind: "CronJob", Group: "batch", Version: "v1", Namespaced: true},
		{Kind: "StorageClass", Group: "storage.k8s.io", Version: "v1"},
		{Kind: "Ingress", Group: "networking.k8s.io", Version: "v1", Namespaced: true},
		{Kind: "NetworkPolicy", Group: "networking.k8s.io", Version: "v1", Namespaced: true},
		{Kind: "Role", Group: "rbac.authorization.k8s.io", Version: "v1", Namespaced: true},
		{Kind: "RoleBinding", Group: "rbac.authorization.k8s.io", Version: "v1", Namespaced: true},
		{Kind: "ClusterRole", Group: "rbac.authorization.k8s.io", Version: "v1"},
		{Kind: "ClusterRoleBinding", Group: "rbac.authorization.k8s.io", Version: "v1"},
		{Kind: "CustomResourceDefinition", Group: "apiextensions.k8s.io", Version: "v1"},
		{Kind: "Application", Group: "argoproj.io", Version: "v1alpha1", Namespaced: true},
	} {
		k.Resource = Pluralize(k.Kind)
		knownKinds[strings.ToLower(k.Kind)] = k
	}
}

var irregularPlurals = map[string]string{
	"endpoints":     "endpoints",
	"ingress":       "ingresses",
	"storageclass":  "storageclasses",
	"networkpolicy": "networkpolicies",
}

// Pluralize returns the lower case REST resource name for kind.
func Pluralize(kind string) string {
	k := strings.ToLower(kind)
	if p, ok := irregularPlurals[k]; ok {
		return p
	}
	switch {
	case strings.HasSuffix(k, "s"), strings.HasSuffix(k, "x"),
		strings.HasSuffix(k, "ch"), strings.HasSuffix(k, "sh"):
		return k + "es"
	case strings.HasSuffix(k, "y") && len(k) > 1 && !strings.ContainsRune("aeiou", rune(k[len(k)-2])):
		return k[:len(k)-1] + "ies"
	}
	return k + "s"
}

// LookupKind resolves kind to its REST mapping. Kinds outside the table pass
// through only when apiVersion names their group; namespaced then decides
// the scope. Anything else is rejected.
func LookupKind(kind, apiVersion string, namespaced bool) (KindInfo, error) {
	if kind == "" {
		return KindInfo{}, &Error{Type: ErrValidationFailed, Message: "kind is required"}
	}
	info, known := knownKinds[strings.ToLower(kind)]
	if apiVersion == "" {
		if !known {
			return KindInfo{}, &Error{
				Type:    ErrValidationFailed,
				Message: fmt.Sprintf("unsupported kind %q: apiVersion is required", kind),
			}
		}
		return info, nil
	}

	gv, err := schema.ParseGroupVersion(apiVersion)
	if err != nil {
		return KindInfo{}, &Error{Type: ErrValidationFailed, Message: fmt.Sprintf("invalid apiVersion %q", apiVersion), Detail: err.Error(), Err: err}
	}
	if known && info.Group == gv.Group {
		info.Version = gv.Version
		return info, nil
	}
	return KindInfo{
		Kind:       kind,
		Group:      gv.Group,
		Version:    gv.Version,
		Resource:   Pluralize(kind),
		Namespaced: namespaced,
	}, nil
}
