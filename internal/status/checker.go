package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/clock"
	"sigs.k8s.io/yaml"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube"
)

// OperatorConfig locates the status ConfigMap published by the operator.
type OperatorConfig struct {
	Namespace  string
	ConfigMap  string
	StaleAfter time.Duration
}

func DefaultOperatorConfig() OperatorConfig {
	return OperatorConfig{
		Namespace:  "kube-system",
		ConfigMap:  "kexplorer-operator-status",
		StaleAfter: 5 * time.Minute,
	}
}

// statusKey is the ConfigMap data key holding the operator's JSON report.
const statusKey = "status"

type operatorReport struct {
	Mode       string    `json:"mode"`
	Tier       string    `json:"tier"`
	Version    string    `json:"version"`
	Health     string    `json:"health"`
	LastUpdate time.Time `json:"lastUpdate"`
	Error      string    `json:"error"`
}

type Checker struct {
	Operator OperatorConfig
	Timeout  time.Duration
	Clock    clock.PassiveClock
}

func NewChecker(op OperatorConfig, timeout time.Duration) *Checker {
	return &Checker{Operator: op, Timeout: timeout, Clock: clock.RealClock{}}
}

func (ch *Checker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ch.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ch.Timeout)
}

// Connectivity asks the server for its version. Any failure counts as
// Disconnected, including an auth rejection.
func (ch *Checker) Connectivity(ctx context.Context, c *cluster.Clients) (ClusterStatus, error) {
	ctx, cancel := ch.withTimeout(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.Discovery.ServerVersion()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return Disconnected, kube.Classify(err)
		}
		return Connected, nil
	case <-ctx.Done():
		return Disconnected, kube.Classify(ctx.Err())
	}
}

// OperatorStatus reads the operator report. A missing ConfigMap means the
// cluster runs without the operator.
func (ch *Checker) OperatorStatus(ctx context.Context, c *cluster.Clients) (OperatorStatus, error) {
	ctx, cancel := ch.withTimeout(ctx)
	defer cancel()

	cm, err := c.Clientset.CoreV1().ConfigMaps(ch.Operator.Namespace).Get(ctx, ch.Operator.ConfigMap, metav1.GetOptions{})
	if err != nil {
		if kube.TypeOf(err) == kube.ErrNotFound {
			return OperatorStatus{Mode: ModeBasic}, nil
		}
		return OperatorStatus{}, kube.Classify(err)
	}

	raw, ok := cm.Data[statusKey]
	if !ok || strings.TrimSpace(raw) == "" {
		return OperatorStatus{Mode: ModeDegraded, Error: "operator status is empty"}, nil
	}

	var rep operatorReport
	if err := yaml.Unmarshal([]byte(raw), &rep); err != nil {
		return OperatorStatus{Mode: ModeDegraded, Error: fmt.Sprintf("unreadable operator status: %v", err)}, nil
	}
	return ch.evaluate(rep), nil
}

func (ch *Checker) evaluate(rep operatorReport) OperatorStatus {
	st := OperatorStatus{
		Tier:       rep.Tier,
		Version:    rep.Version,
		Health:     rep.Health,
		LastUpdate: rep.LastUpdate,
		Error:      rep.Error,
	}

	switch strings.ToLower(rep.Mode) {
	case "enabled":
		st.Mode = ModeEnabled
	case "operated":
		st.Mode = ModeOperated
	case "", "basic":
		st.Mode = ModeBasic
		return st
	default:
		st.Mode = ModeDegraded
		if st.Error == "" {
			st.Error = fmt.Sprintf("unknown operator mode %q", rep.Mode)
		}
		return st
	}

	stale := ch.Operator.StaleAfter > 0 && !rep.LastUpdate.IsZero() && ch.Clock.Since(rep.LastUpdate) > ch.Operator.StaleAfter
	unhealthy := rep.Health != "" && !strings.EqualFold(rep.Health, "healthy")
	if stale || unhealthy || rep.Error != "" {
		st.Mode = ModeDegraded
	}
	if stale && st.Error == "" {
		st.Error = "operator status is stale"
	}
	return st
}

func (ch *Checker) ArgoCD(_ context.Context, c *cluster.Clients) (bool, error) {
	return kube.ArgoCDInstalled(c)
}
