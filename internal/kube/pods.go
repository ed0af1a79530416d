package kube

import (
	"context"
	"fmt"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

// ListPods lists pods in namespace, or in all namespaces when namespace is empty.
func ListPods(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.PodListItemDTO, error) {
	pods, err := c.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.PodListItemDTO, 0, len(pods.Items))
	for _, p := range pods.Items {
		out = append(out, podToDTO(now, p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// FilterPods returns the pods of namespace whose labels match selector.
// An empty selector matches nothing, like a workload without one.
func FilterPods(pods []dto.PodListItemDTO, namespace string, selector map[string]string) []dto.PodListItemDTO {
	if len(selector) == 0 {
		return nil
	}
	sel := labels.SelectorFromSet(selector)
	var out []dto.PodListItemDTO
	for _, p := range pods {
		if p.Namespace != namespace {
			continue
		}
		if sel.Matches(labels.Set(p.Labels)) {
			out = append(out, p)
		}
	}
	return out
}

func podToDTO(now time.Time, p corev1.Pod) dto.PodListItemDTO {
	var readyCount int
	var restarts int32
	for _, cs := range p.Status.ContainerStatuses {
		if cs.Ready {
			readyCount++
		}
		restarts += cs.RestartCount
	}

	return dto.PodListItemDTO{
		Name:      p.Name,
		Namespace: p.Namespace,
		Node:      p.Spec.NodeName,
		Phase:     podPhase(p),
		Ready:     fmtReady(readyCount, len(p.Spec.Containers)),
		Restarts:  restarts,
		Labels:    p.Labels,
		AgeSec:    ageSec(now, p.CreationTimestamp),
	}
}

// podPhase prefers the container waiting/terminated reason over the bare
// phase, so CrashLoopBackOff and friends show up.
func podPhase(p corev1.Pod) string {
	if p.DeletionTimestamp != nil {
		return "Terminating"
	}
	for _, cs := range p.Status.InitContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" && cs.State.Waiting.Reason != "PodInitializing" {
			return "Init:" + cs.State.Waiting.Reason
		}
		if cs.State.Terminated != nil && cs.State.Terminated.ExitCode != 0 {
			return "Init:Error"
		}
	}
	for _, cs := range p.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
		if cs.State.Terminated != nil && cs.State.Terminated.Reason != "" {
			return cs.State.Terminated.Reason
		}
	}
	if p.Status.Phase == "" {
		return "Unknown"
	}
	return string(p.Status.Phase)
}

func fmtReady(ready, total int) string {
	if total == 0 {
		return "0/0"
	}
	return fmt.Sprintf("%d/%d", ready, total)
}
