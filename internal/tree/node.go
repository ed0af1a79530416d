package tree

import (
	"strings"
)

type NodeType string

const (
	TypeCluster     NodeType = "cluster"
	TypeFolder      NodeType = "folder"
	TypeCategory    NodeType = "category"
	TypeSubcategory NodeType = "subcategory"
	TypeError       NodeType = "error"
	TypeInfo        NodeType = "info"
)

// Resource nodes use the lower case kind as their type, e.g. "pod".

// Node is one element of the explorer tree. IDs have the form
// context/type/name[/namespace] and are stable across refreshes.
type Node struct {
	ID         string   `json:"id"`
	Type       NodeType `json:"type"`
	Context    string   `json:"context,omitempty"`
	Label      string   `json:"label"`
	Category   string   `json:"category,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	APIVersion string   `json:"apiVersion,omitempty"`
	Name       string   `json:"name,omitempty"`
	Namespace  string   `json:"namespace,omitempty"`
	// Selector scopes the pods listed under a workload node.
	Selector   map[string]string `json:"selector,omitempty"`
	Expandable bool              `json:"expandable"`

	Status       string `json:"status,omitempty"`
	OperatorMode string `json:"operatorMode,omitempty"`
	// Display is the status shown for a cluster: the operator mode once
	// known, the connectivity status otherwise.
	Display     string `json:"display,omitempty"`
	Health      string `json:"health,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Editable reports whether the node addresses a cluster object that can be
// fetched as YAML.
func (n Node) Editable() bool {
	return n.Kind != "" && n.APIVersion != "" && n.Name != ""
}

const folderContext = "_folder"

func NodeID(contextName string, typ NodeType, name, namespace string) string {
	parts := []string{contextName, string(typ), name}
	if namespace != "" {
		parts = append(parts, namespace)
	}
	return strings.Join(parts, "/")
}

func ClusterID(contextName string) string {
	return NodeID(contextName, TypeCluster, contextName, "")
}

func FolderID(name string) string {
	return NodeID(folderContext, TypeFolder, name, "")
}

func resourceType(kind string) NodeType {
	return NodeType(strings.ToLower(kind))
}

// workloadPodType keeps pods listed under a workload distinct from the same
// pods listed under Workloads/Pods.
func workloadPodType(workloadKind string) NodeType {
	return NodeType(strings.ToLower(workloadKind) + "-pod")
}

// Category slugs.
const (
	CatDashboard       = "dashboard"
	CatReports         = "reports"
	CatEvents          = "events"
	CatNodes           = "nodes"
	CatNamespaces      = "namespaces"
	CatWorkloads       = "workloads"
	CatDeployments     = "deployments"
	CatStatefulSets    = "statefulsets"
	CatDaemonSets      = "daemonsets"
	CatJobs            = "jobs"
	CatCronJobs        = "cronjobs"
	CatPods            = "pods"
	CatNetworking      = "networking"
	CatServices        = "services"
	CatIngresses       = "ingresses"
	CatStorage         = "storage"
	CatPVs             = "persistentvolumes"
	CatPVCs            = "persistentvolumeclaims"
	CatStorageClasses  = "storageclasses"
	CatConfiguration   = "configuration"
	CatConfigMaps      = "configmaps"
	CatSecrets         = "secrets"
	CatHelm            = "helm"
	CatArgoCD          = "argocd"
	CatCustomResources = "customresources"
)

type categoryDef struct {
	slug  string
	label string
	subs  []categoryDef
	// leaf categories without a fetcher render as a single info entry.
	leaf bool
}

var (
	dashboardDef = categoryDef{slug: CatDashboard, label: "Dashboard", leaf: true}
	reportsDef   = categoryDef{slug: CatReports, label: "Reports", subs: []categoryDef{
		{slug: CatEvents, label: "Events"},
	}}
	argoDef = categoryDef{slug: CatArgoCD, label: "ArgoCD Applications"}

	// fixedCategories follow Dashboard and the optional Reports entry.
	fixedCategories = []categoryDef{
		{slug: CatNodes, label: "Nodes"},
		{slug: CatNamespaces, label: "Namespaces"},
		{slug: CatWorkloads, label: "Workloads", subs: []categoryDef{
			{slug: CatDeployments, label: "Deployments"},
			{slug: CatStatefulSets, label: "StatefulSets"},
			{slug: CatDaemonSets, label: "DaemonSets"},
			{slug: CatJobs, label: "Jobs"},
			{slug: CatCronJobs, label: "CronJobs"},
			{slug: CatPods, label: "Pods"},
		}},
		{slug: CatNetworking, label: "Networking", subs: []categoryDef{
			{slug: CatServices, label: "Services"},
			{slug: CatIngresses, label: "Ingresses"},
		}},
		{slug: CatStorage, label: "Storage", subs: []categoryDef{
			{slug: CatPVs, label: "Persistent Volumes"},
			{slug: CatPVCs, label: "Persistent Volume Claims"},
			{slug: CatStorageClasses, label: "Storage Classes"},
		}},
		{slug: CatConfiguration, label: "Configuration", subs: []categoryDef{
			{slug: CatConfigMaps, label: "ConfigMaps"},
			{slug: CatSecrets, label: "Secrets"},
		}},
		{slug: CatHelm, label: "Helm"},
	}
	customResourcesDef = categoryDef{slug: CatCustomResources, label: "Custom Resources"}
)

func findCategory(slug string) (categoryDef, bool) {
	for _, def := range append([]categoryDef{dashboardDef, reportsDef, argoDef, customResourcesDef}, fixedCategories...) {
		if def.slug == slug {
			return def, true
		}
	}
	return categoryDef{}, false
}
