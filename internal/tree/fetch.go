package tree

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"kexplorer/internal/cache"
	"kexplorer/internal/cluster"
	"kexplorer/internal/kube"
	"kexplorer/internal/kube/dto"
)

func (e *Engine) clientsFor(contextName string) (*cluster.Clients, error) {
	c, err := e.sources.ClientsFor(contextName)
	if err != nil {
		return nil, kube.ClientUnavailable(contextName, err)
	}
	return c, nil
}

func (e *Engine) defaultNamespace(contextName string) string {
	cc, _ := e.sources.Context(contextName)
	return cc.Namespace
}

func (e *Engine) fetchCategory(ctx context.Context, contextName, slug string) []Node {
	clients, err := e.clientsFor(contextName)
	if err != nil {
		return []Node{e.failure(contextName, slug, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ns := e.defaultNamespace(contextName)
	var out []Node
	switch slug {
	case CatNodes:
		var items []dto.NodeListItemDTO
		if items, err = e.primaryNodes(ctx, contextName, clients); err == nil {
			out = nodeNodes(contextName, items)
		}
	case CatNamespaces:
		var items []dto.NamespaceListItemDTO
		if items, err = e.primaryNamespaces(ctx, contextName, clients); err == nil {
			out = namespaceNodes(contextName, items)
		}
	case CatPods:
		var items []dto.PodListItemDTO
		if items, err = e.primaryPods(ctx, contextName, clients); err == nil {
			out = podNodes(contextName, resourceType("Pod"), items)
		}
	case CatEvents:
		var items []dto.EventDTO
		if items, err = kube.ListEvents(ctx, clients, ns); err == nil {
			out = eventNodes(contextName, items)
		}
	case CatHelm:
		var items []dto.HelmReleaseDTO
		if items, err = kube.ListHelmReleases(ctx, clients, ns); err == nil {
			out = helmNodes(contextName, items)
		}
	default:
		list, ok := resourceListers[slug]
		if !ok {
			return nil
		}
		var items []dto.ResourceItemDTO
		if items, err = list(ctx, clients, ns); err == nil {
			out = resourceNodes(contextName, items)
		}
	}
	if err != nil {
		return []Node{e.failure(contextName, slug, err)}
	}
	if len(out) == 0 {
		return []Node{emptyNode(contextName, slug)}
	}
	return out
}

type resourceLister func(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error)

func clusterScoped(f func(context.Context, *cluster.Clients) ([]dto.ResourceItemDTO, error)) resourceLister {
	return func(ctx context.Context, c *cluster.Clients, _ string) ([]dto.ResourceItemDTO, error) {
		return f(ctx, c)
	}
}

var resourceListers = map[string]resourceLister{
	CatDeployments:     kube.ListDeployments,
	CatStatefulSets:    kube.ListStatefulSets,
	CatDaemonSets:      kube.ListDaemonSets,
	CatJobs:            kube.ListJobs,
	CatCronJobs:        kube.ListCronJobs,
	CatServices:        kube.ListServices,
	CatIngresses:       kube.ListIngresses,
	CatPVCs:            kube.ListPersistentVolumeClaims,
	CatConfigMaps:      kube.ListConfigMaps,
	CatSecrets:         kube.ListSecrets,
	CatArgoCD:          kube.ListArgoApplications,
	CatPVs:             clusterScoped(kube.ListPersistentVolumes),
	CatStorageClasses:  clusterScoped(kube.ListStorageClasses),
	CatCustomResources: clusterScoped(kube.ListCustomResourceDefinitions),
}

// The primary collections are served from the cache while fresh. A live
// fetch schedules a background pre-fetch of all three.

func (e *Engine) primaryNodes(ctx context.Context, contextName string, c *cluster.Clients) ([]dto.NodeListItemDTO, error) {
	if set, ok := e.resources.Get(contextName); ok {
		return set.Nodes, nil
	}
	items, err := kube.ListNodes(ctx, c)
	if err == nil {
		e.prefetch(contextName, c)
	}
	return items, err
}

func (e *Engine) primaryNamespaces(ctx context.Context, contextName string, c *cluster.Clients) ([]dto.NamespaceListItemDTO, error) {
	if set, ok := e.resources.Get(contextName); ok {
		return set.Namespaces, nil
	}
	items, err := kube.ListNamespaces(ctx, c)
	if err == nil {
		e.prefetch(contextName, c)
	}
	return items, err
}

func (e *Engine) primaryPods(ctx context.Context, contextName string, c *cluster.Clients) ([]dto.PodListItemDTO, error) {
	if set, ok := e.resources.Get(contextName); ok {
		return set.Pods, nil
	}
	items, err := kube.ListPods(ctx, c, e.defaultNamespace(contextName))
	if err == nil {
		e.prefetch(contextName, c)
	}
	return items, err
}

// prefetch fills the resource cache of contextName in the background.
// Concurrent requests for one context share a single fetch.
func (e *Engine) prefetch(contextName string, c *cluster.Clients) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		_, _, _ = e.prefetches.Do(contextName, func() (interface{}, error) {
			e.fillResources(contextName, c)
			return nil, nil
		})
	}()
}

func (e *Engine) fillResources(contextName string, c *cluster.Clients) {
	epoch := e.resources.Epoch(contextName)

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	var set cache.ResourceSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		set.Nodes, err = kube.ListNodes(gctx, c)
		return err
	})
	g.Go(func() (err error) {
		set.Namespaces, err = kube.ListNamespaces(gctx, c)
		return err
	})
	g.Go(func() (err error) {
		set.Pods, err = kube.ListPods(gctx, c, e.defaultNamespace(contextName))
		return err
	})
	if err := g.Wait(); err != nil {
		e.log.V(1).Info("pre-fetch failed", "context", contextName, "err", err.Error())
		return
	}
	if !e.resources.Replace(contextName, epoch, set) {
		e.log.V(2).Info("discarded pre-fetch started before invalidation", "context", contextName)
	}
}

// selectedPods lists the pods matched by a workload or service selector.
func (e *Engine) selectedPods(ctx context.Context, owner Node) []Node {
	scope := fmt.Sprintf("%s-pods:%s:%s", strings.ToLower(owner.Kind), owner.Namespace, owner.Name)
	clients, err := e.clientsFor(owner.Context)
	if err != nil {
		return []Node{e.failure(owner.Context, scope, err)}
	}

	var pods []dto.PodListItemDTO
	if set, ok := e.resources.Get(owner.Context); ok && coversNamespace(e.defaultNamespace(owner.Context), owner.Namespace) {
		pods = set.Pods
	} else {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		if pods, err = kube.ListPodsBySelector(ctx, clients, owner.Namespace, owner.Selector); err != nil {
			return []Node{e.failure(owner.Context, scope, err)}
		}
	}

	matched := kube.FilterPods(pods, owner.Namespace, owner.Selector)
	if len(matched) == 0 {
		return []Node{emptyNode(owner.Context, scope)}
	}
	return podNodes(owner.Context, workloadPodType(owner.Kind), matched)
}

// coversNamespace reports whether a pod set listed in scope holds the pods of ns.
func coversNamespace(scope, ns string) bool {
	return scope == "" || scope == ns
}

func nodeNodes(contextName string, items []dto.NodeListItemDTO) []Node {
	out := make([]Node, 0, len(items))
	for _, it := range items {
		desc := it.KubeletVersion
		if len(it.Roles) > 0 {
			desc = strings.Join(it.Roles, ",") + " " + desc
		}
		st := it.Status
		if it.Unschedulable {
			st += ",SchedulingDisabled"
		}
		out = append(out, Node{
			ID:          NodeID(contextName, resourceType("Node"), it.Name, ""),
			Type:        resourceType("Node"),
			Context:     contextName,
			Label:       it.Name,
			Category:    CatNodes,
			Kind:        "Node",
			APIVersion:  "v1",
			Name:        it.Name,
			Status:      st,
			Description: desc,
		})
	}
	return out
}

func namespaceNodes(contextName string, items []dto.NamespaceListItemDTO) []Node {
	out := make([]Node, 0, len(items))
	for _, it := range items {
		n := Node{
			ID:         NodeID(contextName, resourceType("Namespace"), it.Name, ""),
			Type:       resourceType("Namespace"),
			Context:    contextName,
			Label:      it.Name,
			Category:   CatNamespaces,
			Kind:       "Namespace",
			APIVersion: "v1",
			Name:       it.Name,
			Status:     it.Phase,
		}
		if it.HasUnhealthyConditions {
			n.Health = "Unhealthy"
		}
		out = append(out, n)
	}
	return out
}

func podNodes(contextName string, typ NodeType, items []dto.PodListItemDTO) []Node {
	out := make([]Node, 0, len(items))
	for _, p := range items {
		out = append(out, Node{
			ID:          NodeID(contextName, typ, p.Name, p.Namespace),
			Type:        typ,
			Context:     contextName,
			Label:       p.Name,
			Category:    CatPods,
			Kind:        "Pod",
			APIVersion:  "v1",
			Name:        p.Name,
			Namespace:   p.Namespace,
			Status:      p.Phase,
			Description: fmt.Sprintf("%s ready, %d restarts", p.Ready, p.Restarts),
		})
	}
	return out
}

func resourceNodes(contextName string, items []dto.ResourceItemDTO) []Node {
	out := make([]Node, 0, len(items))
	for _, it := range items {
		out = append(out, Node{
			ID:          NodeID(contextName, resourceType(it.Kind), it.Name, it.Namespace),
			Type:        resourceType(it.Kind),
			Context:     contextName,
			Label:       it.Name,
			Category:    kube.Pluralize(it.Kind),
			Kind:        it.Kind,
			APIVersion:  it.APIVersion,
			Name:        it.Name,
			Namespace:   it.Namespace,
			Selector:    it.Selector,
			Expandable:  len(it.Selector) > 0,
			Status:      it.Status,
			Description: it.Description,
		})
	}
	return out
}

func eventNodes(contextName string, items []dto.EventDTO) []Node {
	out := make([]Node, 0, len(items))
	for i, ev := range items {
		out = append(out, Node{
			// Events have no stable name of their own; position is enough
			// for a report that is redrawn as a whole.
			ID:          NodeID(contextName, "event", fmt.Sprintf("%d", i), ev.Namespace),
			Type:        "event",
			Context:     contextName,
			Label:       ev.Reason + ": " + ev.Object,
			Category:    CatEvents,
			Namespace:   ev.Namespace,
			Status:      ev.Type,
			Description: ev.Message,
		})
	}
	return out
}

func helmNodes(contextName string, items []dto.HelmReleaseDTO) []Node {
	out := make([]Node, 0, len(items))
	for _, r := range items {
		out = append(out, Node{
			ID:          NodeID(contextName, "helmrelease", r.Name, r.Namespace),
			Type:        "helmrelease",
			Context:     contextName,
			Label:       r.Name,
			Category:    CatHelm,
			Name:        r.Name,
			Namespace:   r.Namespace,
			Status:      r.Status,
			Description: fmt.Sprintf("%s rev %d", r.Chart, r.Revision),
		})
	}
	return out
}

func emptyNode(contextName, scope string) Node {
	return Node{
		ID:       NodeID(contextName, TypeInfo, scope, ""),
		Type:     TypeInfo,
		Context:  contextName,
		Label:    "No resources found",
		Category: scope,
	}
}
