package kube

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

func ListServices(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	services, err := c.Clientset.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(services.Items))
	for _, svc := range services.Items {
		out = append(out, dto.ResourceItemDTO{
			Kind:        "Service",
			APIVersion:  "v1",
			Name:        svc.Name,
			Namespace:   svc.Namespace,
			Status:      serviceType(svc.Spec.Type),
			Description: formatServicePortsSummary(svc.Spec.Ports),
			Selector:    svc.Spec.Selector,
			AgeSec:      ageSec(now, svc.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func ListIngresses(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	ings, err := c.Clientset.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(ings.Items))
	for i := range ings.Items {
		ing := &ings.Items[i]
		out = append(out, dto.ResourceItemDTO{
			Kind:        "Ingress",
			APIVersion:  "networking.k8s.io/v1",
			Name:        ing.Name,
			Namespace:   ing.Namespace,
			Status:      stringPtrValue(ing.Spec.IngressClassName),
			Description: strings.Join(collectIngressHosts(ing), ", "),
			AgeSec:      ageSec(now, ing.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func formatServicePortsSummary(ports []corev1.ServicePort) string {
	if len(ports) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		base := fmt.Sprintf("%d", p.Port)
		target := serviceIntOrString(p.TargetPort)
		if target != "" && target != base {
			base = fmt.Sprintf("%s→%s", base, target)
		}
		proto := string(p.Protocol)
		if proto == "" {
			proto = "TCP"
		}
		entry := fmt.Sprintf("%s/%s", base, proto)
		if p.NodePort != 0 {
			entry = fmt.Sprintf("%s (NP %d)", entry, p.NodePort)
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, ", ")
}

func serviceType(t corev1.ServiceType) string {
	if t == "" {
		return "ClusterIP"
	}
	return string(t)
}

func serviceIntOrString(v intstr.IntOrString) string {
	if v.Type == intstr.String {
		return v.StrVal
	}
	if v.IntVal == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v.IntVal)
}

func collectIngressHosts(ing *networkingv1.Ingress) []string {
	seen := map[string]struct{}{}
	var hosts []string
	for _, r := range ing.Spec.Rules {
		if r.Host == "" {
			continue
		}
		if _, ok := seen[r.Host]; ok {
			continue
		}
		seen[r.Host] = struct{}{}
		hosts = append(hosts, r.Host)
	}
	return hosts
}

func stringPtrValue(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}
