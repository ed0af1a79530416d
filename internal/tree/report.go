package tree

import (
	"errors"
	"fmt"

	"kexplorer/internal/events"
	"kexplorer/internal/kube"
)

// failure logs err under the visibility policy of its class and returns the
// error node that replaces the failed category.
func (e *Engine) failure(contextName, scope string, err error) Node {
	var kerr *kube.Error
	if !errors.As(kube.Classify(err), &kerr) {
		kerr = &kube.Error{Message: err.Error()}
	}
	e.report(contextName, scope, kerr)

	n := Node{
		ID:       NodeID(contextName, TypeError, scope, ""),
		Type:     TypeError,
		Context:  contextName,
		Label:    kerr.Message,
		Category: scope,
		Error:    kerr.Type.String(),
	}
	if kerr.Type == kube.ErrPermissionDenied {
		n.Description = "check RBAC permissions for this context"
	}
	return n
}

func (e *Engine) report(contextName, scope string, kerr *kube.Error) {
	log := e.log.WithValues("context", contextName, "category", scope, "errType", kerr.Type.String())

	switch kerr.Type {
	case kube.ErrClientUnavailable:
		log.Error(kerr, "cluster client unavailable", "detail", kerr.Detail)
		if _, seen := e.reported.Swap(contextName, true); !seen {
			e.notice(events.LevelError, fmt.Sprintf("%s: %s", contextName, kerr.Message))
		}
	case kube.ErrPermissionDenied:
		log.Info("permission denied", "detail", kerr.Detail)
		e.notice(events.LevelWarning, fmt.Sprintf("%s: %s (%s)", contextName, kerr.Message, scope))
	case kube.ErrConnectionFailed, kube.ErrTimeout:
		// Unreachable clusters are expected; keep them out of the user's way.
		log.V(1).Info("cluster call failed", "detail", kerr.Detail)
	default:
		log.Error(kerr, "fetch failed", "detail", kerr.Detail)
		e.notice(events.LevelError, fmt.Sprintf("%s: %s", contextName, kerr.Message))
	}
}
