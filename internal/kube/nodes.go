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

func ListNodes(ctx context.Context, c *cluster.Clients) ([]dto.NodeListItemDTO, error) {
	nodes, err := c.Clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.NodeListItemDTO, 0, len(nodes.Items))
	for _, n := range nodes.Items {
		out = append(out, dto.NodeListItemDTO{
			Name:           n.Name,
			Status:         nodeReadyStatus(n.Status.Conditions),
			Roles:          deriveNodeRoles(n.Labels),
			KubeletVersion: n.Status.NodeInfo.KubeletVersion,
			Unschedulable:  n.Spec.Unschedulable,
			AgeSec:         ageSec(now, n.CreationTimestamp),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func nodeReadyStatus(conds []corev1.NodeCondition) string {
	for _, c := range conds {
		if c.Type != corev1.NodeReady {
			continue
		}
		switch c.Status {
		case corev1.ConditionTrue:
			return "Ready"
		case corev1.ConditionFalse:
			return "NotReady"
		default:
			return "Unknown"
		}
	}
	return "Unknown"
}

func deriveNodeRoles(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	roleSet := map[string]struct{}{}
	for k, v := range labels {
		if role, ok := strings.CutPrefix(k, "node-role.kubernetes.io/"); ok {
			if role != "" {
				roleSet[role] = struct{}{}
			}
			continue
		}
		if k == "kubernetes.io/role" && strings.TrimSpace(v) != "" {
			roleSet[strings.TrimSpace(v)] = struct{}{}
		}
	}
	if len(roleSet) == 0 {
		return nil
	}
	roles := make([]string, 0, len(roleSet))
	for r := range roleSet {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

func ageSec(now time.Time, ts metav1.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return int64(now.Sub(ts.Time).Seconds())
}
