package kube

import (
	"context"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

// MaxEvents caps the Events report. Busy clusters keep thousands.
const MaxEvents = 200

// ListEvents returns the most recent events of namespace (all when empty),
// newest first.
func ListEvents(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.EventDTO, error) {
	evs, err := c.Clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	out := mapAndSortEvents(evs.Items)
	if len(out) > MaxEvents {
		out = out[:MaxEvents]
	}
	return out, nil
}

func mapAndSortEvents(items []corev1.Event) []dto.EventDTO {
	out := make([]dto.EventDTO, 0, len(items))
	for _, e := range items {
		out = append(out, toEventDTO(e))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastSeen > out[j].LastSeen })
	return out
}

func toEventDTO(e corev1.Event) dto.EventDTO {
	object := strings.TrimSpace(e.InvolvedObject.Kind)
	if name := strings.TrimSpace(e.InvolvedObject.Name); name != "" {
		object += "/" + name
	}
	return dto.EventDTO{
		Type:      e.Type,
		Reason:    e.Reason,
		Message:   e.Message,
		Count:     e.Count,
		Object:    object,
		Namespace: e.Namespace,
		LastSeen:  eventLastSeen(e).Unix(),
	}
}

func eventLastSeen(e corev1.Event) time.Time {
	last := e.LastTimestamp.Time
	if last.IsZero() {
		last = e.EventTime.Time
	}
	if last.IsZero() {
		last = e.CreationTimestamp.Time
	}
	return last
}
