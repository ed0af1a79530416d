package kube

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

func ListPersistentVolumes(ctx context.Context, c *cluster.Clients) ([]dto.ResourceItemDTO, error) {
	items, err := c.Clientset.CoreV1().PersistentVolumes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(items.Items))
	for _, pv := range items.Items {
		out = append(out, dto.ResourceItemDTO{
			Kind:        "PersistentVolume",
			APIVersion:  "v1",
			Name:        pv.Name,
			Status:      string(pv.Status.Phase),
			Description: joinNonEmpty(storageQuantity(pv.Spec.Capacity), pvClaimRefString(pv.Spec.ClaimRef)),
			AgeSec:      ageSec(now, pv.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func ListPersistentVolumeClaims(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	items, err := c.Clientset.CoreV1().PersistentVolumeClaims(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(items.Items))
	for _, pvc := range items.Items {
		out = append(out, dto.ResourceItemDTO{
			Kind:        "PersistentVolumeClaim",
			APIVersion:  "v1",
			Name:        pvc.Name,
			Namespace:   pvc.Namespace,
			Status:      string(pvc.Status.Phase),
			Description: joinNonEmpty(storageQuantity(pvc.Status.Capacity), stringPtrValue(pvc.Spec.StorageClassName)),
			AgeSec:      ageSec(now, pvc.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func ListStorageClasses(ctx context.Context, c *cluster.Clients) ([]dto.ResourceItemDTO, error) {
	items, err := c.Clientset.StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(items.Items))
	for _, sc := range items.Items {
		status := ""
		if sc.Annotations["storageclass.kubernetes.io/is-default-class"] == "true" {
			status = "default"
		}
		out = append(out, dto.ResourceItemDTO{
			Kind:        "StorageClass",
			APIVersion:  "storage.k8s.io/v1",
			Name:        sc.Name,
			Status:      status,
			Description: sc.Provisioner,
			AgeSec:      ageSec(now, sc.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func storageQuantity(rl corev1.ResourceList) string {
	q, ok := rl[corev1.ResourceStorage]
	if !ok {
		return ""
	}
	return q.String()
}

func pvClaimRefString(ref *corev1.ObjectReference) string {
	if ref == nil || ref.Name == "" {
		return ""
	}
	if ref.Namespace == "" {
		return ref.Name
	}
	return ref.Namespace + "/" + ref.Name
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
