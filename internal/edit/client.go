package edit

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube"
)

// ResourceClient is the live object boundary of the editor.
type ResourceClient interface {
	Get(ctx context.Context, id ResourceID) (*unstructured.Unstructured, error)
	Apply(ctx context.Context, id ResourceID, obj *unstructured.Unstructured, dryRun bool) (*unstructured.Unstructured, error)
}

// AccessReviewer asks a cluster whether the caller may perform a verb.
type AccessReviewer interface {
	Review(ctx context.Context, clusterName string, req kube.AccessReviewRequest) (kube.AccessReviewResult, error)
}

type ClientSource interface {
	ClientsFor(name string) (*cluster.Clients, error)
}

// ClusterClient implements ResourceClient and AccessReviewer over the
// cluster manager. Every call is bounded by Timeout.
type ClusterClient struct {
	Source  ClientSource
	Timeout time.Duration
}

func NewClusterClient(src ClientSource, timeout time.Duration) *ClusterClient {
	return &ClusterClient{Source: src, Timeout: timeout}
}

func (c *ClusterClient) clients(name string) (*cluster.Clients, error) {
	cl, err := c.Source.ClientsFor(name)
	if err != nil {
		return nil, kube.ClientUnavailable(name, err)
	}
	return cl, nil
}

func (c *ClusterClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

func (c *ClusterClient) Get(ctx context.Context, id ResourceID) (*unstructured.Unstructured, error) {
	info, err := id.kindInfo()
	if err != nil {
		return nil, err
	}
	cl, err := c.clients(id.Cluster)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return kube.GetResource(ctx, cl, info, id.Namespace, id.Name)
}

func (c *ClusterClient) Apply(ctx context.Context, id ResourceID, obj *unstructured.Unstructured, dryRun bool) (*unstructured.Unstructured, error) {
	info, err := id.kindInfo()
	if err != nil {
		return nil, err
	}
	cl, err := c.clients(id.Cluster)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return kube.ApplyResource(ctx, cl, info, id.Namespace, obj, dryRun)
}

func (c *ClusterClient) Review(ctx context.Context, clusterName string, req kube.AccessReviewRequest) (kube.AccessReviewResult, error) {
	cl, err := c.clients(clusterName)
	if err != nil {
		return kube.AccessReviewResult{}, err
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return kube.SelfSubjectAccessReview(ctx, cl.Clientset, req)
}
