package kube

import (
	"context"
	"fmt"
	"sort"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

func ListDeployments(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	deps, err := c.Clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(deps.Items))
	for _, d := range deps.Items {
		desired := replicas(d.Spec.Replicas)
		out = append(out, dto.ResourceItemDTO{
			Kind:        "Deployment",
			APIVersion:  "apps/v1",
			Name:        d.Name,
			Namespace:   d.Namespace,
			Status:      deploymentStatus(d, desired),
			Description: fmtReady(int(d.Status.AvailableReplicas), int(desired)),
			Selector:    matchLabels(d.Spec.Selector),
			AgeSec:      ageSec(now, d.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func ListStatefulSets(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	sets, err := c.Clientset.AppsV1().StatefulSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(sets.Items))
	for _, s := range sets.Items {
		desired := replicas(s.Spec.Replicas)
		status := "Ready"
		if s.Status.ReadyReplicas < desired {
			status = "Progressing"
		}
		if desired == 0 {
			status = "ScaledDown"
		}
		out = append(out, dto.ResourceItemDTO{
			Kind:        "StatefulSet",
			APIVersion:  "apps/v1",
			Name:        s.Name,
			Namespace:   s.Namespace,
			Status:      status,
			Description: fmtReady(int(s.Status.ReadyReplicas), int(desired)),
			Selector:    matchLabels(s.Spec.Selector),
			AgeSec:      ageSec(now, s.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func ListDaemonSets(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	sets, err := c.Clientset.AppsV1().DaemonSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(sets.Items))
	for _, d := range sets.Items {
		status := "Ready"
		if d.Status.NumberReady < d.Status.DesiredNumberScheduled {
			status = "Progressing"
		}
		out = append(out, dto.ResourceItemDTO{
			Kind:        "DaemonSet",
			APIVersion:  "apps/v1",
			Name:        d.Name,
			Namespace:   d.Namespace,
			Status:      status,
			Description: fmtReady(int(d.Status.NumberReady), int(d.Status.DesiredNumberScheduled)),
			Selector:    matchLabels(d.Spec.Selector),
			AgeSec:      ageSec(now, d.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func ListJobs(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	jobs, err := c.Clientset.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(jobs.Items))
	for i := range jobs.Items {
		j := &jobs.Items[i]
		completions := int32(1)
		if j.Spec.Completions != nil {
			completions = *j.Spec.Completions
		}
		out = append(out, dto.ResourceItemDTO{
			Kind:        "Job",
			APIVersion:  "batch/v1",
			Name:        j.Name,
			Namespace:   j.Namespace,
			Status:      jobStatus(j),
			Description: fmt.Sprintf("%d/%d succeeded", j.Status.Succeeded, completions),
			Selector:    matchLabels(j.Spec.Selector),
			AgeSec:      ageSec(now, j.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func ListCronJobs(ctx context.Context, c *cluster.Clients, namespace string) ([]dto.ResourceItemDTO, error) {
	cjs, err := c.Clientset.BatchV1().CronJobs(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, Classify(err)
	}

	now := time.Now()
	out := make([]dto.ResourceItemDTO, 0, len(cjs.Items))
	for _, cj := range cjs.Items {
		status := "Scheduled"
		if cj.Spec.Suspend != nil && *cj.Spec.Suspend {
			status = "Suspended"
		} else if len(cj.Status.Active) > 0 {
			status = "Active"
		}
		out = append(out, dto.ResourceItemDTO{
			Kind:        "CronJob",
			APIVersion:  "batch/v1",
			Name:        cj.Name,
			Namespace:   cj.Namespace,
			Status:      status,
			Description: cj.Spec.Schedule,
			AgeSec:      ageSec(now, cj.CreationTimestamp),
		})
	}
	sortItems(out)
	return out, nil
}

func deploymentStatus(d appsv1.Deployment, desired int32) string {
	if d.Spec.Paused {
		return "Paused"
	}
	if desired == 0 {
		return "ScaledDown"
	}

	available := false
	progressing := false
	for _, c := range d.Status.Conditions {
		switch c.Type {
		case appsv1.DeploymentAvailable:
			available = c.Status == corev1.ConditionTrue
		case appsv1.DeploymentProgressing:
			progressing = c.Status == corev1.ConditionTrue
		}
	}

	if available && d.Status.AvailableReplicas >= desired {
		return "Available"
	}
	if progressing {
		return "Progressing"
	}
	return "Unknown"
}

func jobStatus(job *batchv1.Job) string {
	if jobHasCondition(job, batchv1.JobFailed) || job.Status.Failed > 0 {
		return "Failed"
	}
	if jobHasCondition(job, batchv1.JobComplete) {
		return "Complete"
	}
	if job.Status.Active > 0 {
		return "Running"
	}
	if job.Status.Succeeded > 0 {
		return "Complete"
	}
	return "Unknown"
}

func jobHasCondition(job *batchv1.Job, condType batchv1.JobConditionType) bool {
	for _, cond := range job.Status.Conditions {
		if cond.Type == condType && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func replicas(v *int32) int32 {
	if v == nil {
		return 1
	}
	return *v
}

// matchLabels flattens a label selector. Expression based selectors are not
// representable as a set, so only matchLabels is carried.
func matchLabels(sel *metav1.LabelSelector) map[string]string {
	if sel == nil || len(sel.MatchLabels) == 0 {
		return nil
	}
	out := make(map[string]string, len(sel.MatchLabels))
	for k, v := range sel.MatchLabels {
		out[k] = v
	}
	return out
}

func sortItems(items []dto.ResourceItemDTO) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Namespace != items[j].Namespace {
			return items[i].Namespace < items[j].Namespace
		}
		return items[i].Name < items[j].Name
	})
}
