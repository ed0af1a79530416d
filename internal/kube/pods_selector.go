package kube

import (
	"context"
	"sort"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

// ListPodsBySelector lists the pods of namespace matching selector on the
// server side. An empty selector matches nothing and makes no request.
func ListPodsBySelector(ctx context.Context, c *cluster.Clients, namespace string, selector map[string]string) ([]dto.PodListItemDTO, error) {
	if len(selector) == 0 {
		return nil, nil
	}
	listOpts := metav1.ListOptions{LabelSelector: labels.SelectorFromSet(selector).String()}
	pods, err := c.Clientset.CoreV1().Pods(namespace).List(ctx, listOpts)
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.PodListItemDTO, 0, len(pods.Items))
	for _, p := range pods.Items {
		out = append(out, podToDTO(now, p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
