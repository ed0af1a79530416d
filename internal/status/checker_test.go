package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	clocktesting "k8s.io/utils/clock/testing"

	"kexplorer/internal/cluster"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newChecker() *Checker {
	ch := NewChecker(DefaultOperatorConfig(), time.Second)
	ch.Clock = clocktesting.NewFakePassiveClock(now)
	return ch
}

func clientsWith(objs ...runtime.Object) (*cluster.Clients, *fake.Clientset) {
	cs := fake.NewClientset(objs...)
	return &cluster.Clients{Clientset: cs, Discovery: cs.Discovery()}, cs
}

func operatorConfigMap(report string) *corev1.ConfigMap {
	op := DefaultOperatorConfig()
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Namespace: op.Namespace, Name: op.ConfigMap},
		Data:       map[string]string{"status": report},
	}
}

func TestConnectivity(t *testing.T) {
	t.Parallel()

	c, _ := clientsWith()
	st, err := newChecker().Connectivity(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, Connected, st)

	c, cs := clientsWith()
	cs.PrependReactor("get", "version", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("dial tcp 10.0.0.1:6443: connect: connection refused")
	})
	st, err = newChecker().Connectivity(context.Background(), c)
	assert.Error(t, err)
	assert.Equal(t, Disconnected, st)
}

func TestOperatorStatus_MissingConfigMapIsBasic(t *testing.T) {
	t.Parallel()

	c, _ := clientsWith()
	st, err := newChecker().OperatorStatus(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, ModeBasic, st.Mode)
	assert.False(t, st.ShowsReports())
}

func TestOperatorStatus_Modes(t *testing.T) {
	t.Parallel()

	fresh := now.Add(-time.Minute).Format(time.RFC3339)
	stale := now.Add(-time.Hour).Format(time.RFC3339)

	cases := []struct {
		name   string
		report string
		want   OperatorMode
	}{
		{"enabled", `{"mode":"enabled","tier":"pro","version":"1.4.0","health":"healthy","lastUpdate":"` + fresh + `"}`, ModeEnabled},
		{"operated", `{"mode":"operated","health":"healthy","lastUpdate":"` + fresh + `"}`, ModeOperated},
		{"basic", `{"mode":"basic"}`, ModeBasic},
		{"unhealthy", `{"mode":"enabled","health":"degraded","lastUpdate":"` + fresh + `"}`, ModeDegraded},
		{"stale", `{"mode":"enabled","health":"healthy","lastUpdate":"` + stale + `"}`, ModeDegraded},
		{"error", `{"mode":"operated","error":"license expired"}`, ModeDegraded},
		{"garbage", `{not json`, ModeDegraded},
		{"unknown mode", `{"mode":"turbo"}`, ModeDegraded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, _ := clientsWith(operatorConfigMap(tc.report))
			st, err := newChecker().OperatorStatus(context.Background(), c)
			require.NoError(t, err)
			assert.Equal(t, tc.want, st.Mode)
		})
	}
}

func TestOperatorStatus_Detail(t *testing.T) {
	t.Parallel()

	c, _ := clientsWith(operatorConfigMap(`{"mode":"enabled","tier":"pro","version":"1.4.0","health":"healthy","lastUpdate":"` + now.Format(time.RFC3339) + `"}`))
	st, err := newChecker().OperatorStatus(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "pro", st.Tier)
	assert.Equal(t, "1.4.0", st.Version)
	assert.True(t, st.LastUpdate.Equal(now))
	assert.True(t, st.ShowsReports())
}

func TestOperatorStatus_ForbiddenIsAnError(t *testing.T) {
	t.Parallel()

	c, cs := clientsWith()
	cs.PrependReactor("get", "configmaps", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("i/o timeout")
	})
	_, err := newChecker().OperatorStatus(context.Background(), c)
	assert.Error(t, err)
}
