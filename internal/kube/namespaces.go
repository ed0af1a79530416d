package kube

import (
	"context"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

func ListNamespaces(ctx context.Context, c *cluster.Clients) ([]dto.NamespaceListItemDTO, error) {
	nsList, err := c.Clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.NamespaceListItemDTO, 0, len(nsList.Items))
	for _, ns := range nsList.Items {
		out = append(out, dto.NamespaceListItemDTO{
			Name:                   ns.Name,
			Phase:                  string(ns.Status.Phase),
			AgeSec:                 ageSec(now, ns.CreationTimestamp),
			HasUnhealthyConditions: hasUnhealthyNamespaceConditions(ns.Status.Conditions),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func hasUnhealthyNamespaceConditions(conds []corev1.NamespaceCondition) bool {
	for _, c := range conds {
		if c.Status == corev1.ConditionTrue || c.Status == corev1.ConditionUnknown {
			return true
		}
	}
	return false
}
