package edit

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"kexplorer/internal/cache"
	"kexplorer/internal/kube"
)

type Level int

const (
	LevelUnknown Level = iota
	LevelNone
	LevelReadOnly
	LevelReadWrite
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "None"
	case LevelReadOnly:
		return "ReadOnly"
	case LevelReadWrite:
		return "ReadWrite"
	default:
		return "Unknown"
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// CanWrite is true only for a confirmed ReadWrite. Unknown is treated as
// read-only.
func (l Level) CanWrite() bool {
	return l == LevelReadWrite
}

// PermissionTTL bounds how long a permission answer is reused.
const PermissionTTL = 60 * time.Second

// PermissionChecker classifies access to a resource with
// SelfSubjectAccessReview. Definite answers are cached per key.
type PermissionChecker struct {
	reviewer AccessReviewer
	cache    *cache.Store[Level]
	log      logr.Logger
}

func NewPermissionChecker(reviewer AccessReviewer, clk clock.PassiveClock, log logr.Logger) *PermissionChecker {
	return &PermissionChecker{
		reviewer: reviewer,
		cache:    cache.NewStore[Level](clk, PermissionTTL),
		log:      log.WithName("permissions"),
	}
}

// Check tests update first, then get. A review that cannot be completed
// yields Unknown rather than an error.
func (p *PermissionChecker) Check(ctx context.Context, id ResourceID) Level {
	key := id.Key()
	if l, ok := p.cache.Get(key); ok {
		return l
	}

	l := p.check(ctx, id)
	if l != LevelUnknown {
		p.cache.Set(key, l)
	}
	return l
}

func (p *PermissionChecker) check(ctx context.Context, id ResourceID) Level {
	info, err := id.kindInfo()
	if err != nil {
		p.log.V(1).Info("cannot map kind for access review", "key", id.Key(), "err", err.Error())
		return LevelUnknown
	}
	req := kube.AccessReviewRequest{
		Resource:  info.Resource,
		Group:     info.Group,
		Namespace: id.Namespace,
		Name:      id.Name,
	}

	req.Verb = "update"
	res, err := p.reviewer.Review(ctx, id.Cluster, req)
	if err != nil {
		p.log.V(1).Info("access review failed", "key", id.Key(), "verb", req.Verb, "err", err.Error())
		return LevelUnknown
	}
	if res.Allowed {
		return LevelReadWrite
	}

	req.Verb = "get"
	res, err = p.reviewer.Review(ctx, id.Cluster, req)
	if err != nil {
		p.log.V(1).Info("access review failed", "key", id.Key(), "verb", req.Verb, "err", err.Error())
		return LevelUnknown
	}
	if res.Allowed {
		return LevelReadOnly
	}
	return LevelNone
}

// Forget drops the cached answer for id.
func (p *PermissionChecker) Forget(id ResourceID) {
	p.cache.Delete(id.Key())
}

// Clear drops every cached answer.
func (p *PermissionChecker) Clear() {
	p.cache.Clear()
}
