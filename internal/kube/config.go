package kube

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

func ListConfigMaps(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	items, err := c.Clientset.CoreV1().ConfigMaps(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(items.Items))
	for _, cm := range items.Items {
		out = append(out, dto.ResourceItemDTO{
			Kind:        "ConfigMap",
			APIVersion:  "v1",
			Name:        cm.Name,
			Namespace:   cm.Namespace,
			Description: fmt.Sprintf("%d keys", len(cm.Data)+len(cm.BinaryData)),
			AgeSec:      ageSec(now, cm.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

// ListSecrets lists secrets without exposing their values. Helm release
// secrets are skipped, the Helm category covers them.
func ListSecrets(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	items, err := c.Clientset.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(items.Items))
	for _, s := range items.Items {
		if s.Type == "helm.sh/release.v1" {
			continue
		}
		out = append(out, dto.ResourceItemDTO{
			Kind:        "Secret",
			APIVersion:  "v1",
			Name:        s.Name,
			Namespace:   s.Namespace,
			Status:      string(s.Type),
			Description: fmt.Sprintf("%d keys", len(s.Data)),
			AgeSec:      ageSec(now, s.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}
