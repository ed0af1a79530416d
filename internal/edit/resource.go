package edit

import (
	"fmt"

	"kexplorer/internal/kube"
)

const clusterScopeKey = "_cluster"

// ResourceID identifies one editable object. An empty Namespace means the
// object is cluster scoped.
type ResourceID struct {
	Cluster    string `json:"cluster"`
	Namespace  string `json:"namespace,omitempty"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// Key is the session wide identity shared by the editor table, the
// permission cache and the conflict monitors.
func (id ResourceID) Key() string {
	ns := id.Namespace
	if ns == "" {
		ns = clusterScopeKey
	}
	return fmt.Sprintf("%s:%s:%s:%s", id.Cluster, ns, id.Kind, id.Name)
}

func (id ResourceID) Validate() error {
	if id.Cluster == "" || id.Kind == "" || id.Name == "" {
		return &kube.Error{Type: kube.ErrValidationFailed, Message: "cluster, kind and name are required"}
	}
	return nil
}

func (id ResourceID) kindInfo() (kube.KindInfo, error) {
	return kube.LookupKind(id.Kind, id.APIVersion, id.Namespace != "")
}
