package tree

import (
	"context"

	"golang.org/x/sync/errgroup"

	"kexplorer/internal/status"
)

type checkFunc func(ctx context.Context, contextName string)

// ensureStatus fires the missing status checks of a cluster in the
// background. Each check publishes its own scoped change.
func (e *Engine) ensureStatus(contextName string) {
	if _, ok := e.clusterStatus.Get(contextName); !ok {
		e.startCheck(contextName, "connectivity", e.checkConnectivity)
	}
	if _, ok := e.operatorStatus.Get(contextName); !ok {
		e.startCheck(contextName, "operator", e.checkOperator)
	}
	if _, ok := e.argo.Get(contextName); !ok {
		e.startCheck(contextName, "argocd", e.checkArgoCD)
	}
}

func (e *Engine) startCheck(contextName, name string, fn checkFunc) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		_, _, _ = e.checks.Do(contextName+"/"+name, func() (interface{}, error) {
			fn(context.Background(), contextName)
			return nil, nil
		})
	}()
}

func (e *Engine) checkConnectivity(ctx context.Context, contextName string) {
	st := status.Disconnected
	if c, err := e.clientsFor(contextName); err != nil {
		e.log.V(1).Info("connectivity check skipped", "context", contextName, "err", err.Error())
	} else {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		if st, err = e.checker.Connectivity(ctx, c); err != nil {
			e.log.V(1).Info("cluster unreachable", "context", contextName, "err", err.Error())
		}
	}

	if prev, had := e.clusterStatus.Swap(contextName, st); !had || prev != st {
		e.publish(ClusterID(contextName))
	}
}

func (e *Engine) checkOperator(ctx context.Context, contextName string) {
	var st status.OperatorStatus
	if c, err := e.clientsFor(contextName); err != nil {
		st.Error = err.Error()
	} else {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		if st, err = e.checker.OperatorStatus(ctx, c); err != nil {
			// Mode stays unknown, so no Reports category is shown.
			e.log.V(1).Info("operator status check failed", "context", contextName, "err", err.Error())
			st = status.OperatorStatus{Error: err.Error()}
		}
	}

	if prev, had := e.operatorStatus.Swap(contextName, st); !had || !sameOperatorStatus(prev, st) {
		e.publish(ClusterID(contextName))
	}
}

func (e *Engine) checkArgoCD(ctx context.Context, contextName string) {
	found := false
	if c, err := e.clientsFor(contextName); err == nil {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		if found, err = e.checker.ArgoCD(ctx, c); err != nil {
			e.log.V(1).Info("argocd detection failed", "context", contextName, "err", err.Error())
		}
	}

	if prev, had := e.argo.Swap(contextName, found); !had || prev != found {
		e.publish(ClusterID(contextName))
	}
}

// sameOperatorStatus ignores LastUpdate, which moves on every heartbeat.
func sameOperatorStatus(a, b status.OperatorStatus) bool {
	return a.Mode == b.Mode && a.Tier == b.Tier && a.Version == b.Version &&
		a.Health == b.Health && a.Error == b.Error
}

// RecheckStatuses re-runs connectivity and operator checks for clusters that
// already have a cached status. Only changes are published.
func (e *Engine) RecheckStatuses(ctx context.Context) {
	seen := map[string]bool{}
	for _, name := range append(e.clusterStatus.Keys(), e.operatorStatus.Keys()...) {
		if _, known := e.sources.Context(name); known {
			seen[name] = true
		}
	}

	var g errgroup.Group
	g.SetLimit(8)
	for name := range seen {
		g.Go(func() error {
			e.checkConnectivity(ctx, name)
			e.checkOperator(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
}
