package kube

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

func pod(ns, name string, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name, Labels: labels},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app"}}},
		Status: corev1.PodStatus{
			Phase:             corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{{Name: "app", Ready: true, RestartCount: 2}},
		},
	}
}

func TestListPods(t *testing.T) {
	t.Parallel()

	crash := pod("default", "crashy", nil)
	crash.Status.ContainerStatuses[0].Ready = false
	crash.Status.ContainerStatuses[0].State.Waiting = &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"}

	cs := fake.NewClientset(pod("default", "web-1", map[string]string{"app": "web"}), crash, pod("kube-system", "dns", nil))
	c := &cluster.Clients{Clientset: cs}

	all, err := ListPods(context.Background(), c, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "crashy", all[0].Name)
	assert.Equal(t, "CrashLoopBackOff", all[0].Phase)
	assert.Equal(t, "0/1", all[0].Ready)
	assert.Equal(t, "web-1", all[1].Name)
	assert.Equal(t, "1/1", all[1].Ready)
	assert.Equal(t, int32(2), all[1].Restarts)
	assert.Equal(t, "kube-system", all[2].Namespace)

	scoped, err := ListPods(context.Background(), c, "kube-system")
	require.NoError(t, err)
	assert.Len(t, scoped, 1)
}

func TestFilterPods(t *testing.T) {
	t.Parallel()

	pods := []dto.PodListItemDTO{
		{Name: "web-1", Namespace: "default", Labels: map[string]string{"app": "web", "tier": "fe"}},
		{Name: "web-2", Namespace: "other", Labels: map[string]string{"app": "web"}},
		{Name: "db-1", Namespace: "default", Labels: map[string]string{"app": "db"}},
	}

	got := FilterPods(pods, "default", map[string]string{"app": "web"})
	require.Len(t, got, 1)
	assert.Equal(t, "web-1", got[0].Name)

	assert.Empty(t, FilterPods(pods, "default", nil))
}

func TestListPodsBySelector(t *testing.T) {
	t.Parallel()

	cs := fake.NewClientset(
		pod("default", "web-2", map[string]string{"app": "web"}),
		pod("default", "web-1", map[string]string{"app": "web"}),
		pod("default", "db-1", map[string]string{"app": "db"}),
		pod("other", "web-3", map[string]string{"app": "web"}),
	)
	c := &cluster.Clients{Clientset: cs}

	got, err := ListPodsBySelector(context.Background(), c, "default", map[string]string{"app": "web"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "web-1", got[0].Name)
	assert.Equal(t, "web-2", got[1].Name)

	before := len(cs.Actions())
	none, err := ListPodsBySelector(context.Background(), c, "default", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Len(t, cs.Actions(), before)
}

func TestListDeploymentsCarriesSelector(t *testing.T) {
	t.Parallel()

	cs := fake.NewClientset(deployment("default", "web", map[string]string{"app": "web"}))
	items, err := ListDeployments(context.Background(), &cluster.Clients{Clientset: cs}, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]string{"app": "web"}, items[0].Selector)
	assert.Equal(t, "Deployment", items[0].Kind)
	assert.Equal(t, "ScaledDown", items[0].Status)
}
