package edit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"kexplorer/internal/events"
	"kexplorer/internal/kube"
)

// Refresher is the tree side of a successful save.
type Refresher interface {
	RefreshContext(name string)
}

// Session is a snapshot of one open editor.
type Session struct {
	ID         string       `json:"id"`
	Key        string       `json:"key"`
	Resource   ResourceID   `json:"resource"`
	Version    string       `json:"resourceVersion"`
	Content    string       `json:"content"`
	Original   string       `json:"-"`
	ReadOnly   bool         `json:"readOnly"`
	Permission Level        `json:"permission"`
	Dirty      bool         `json:"dirty"`
	Focused    bool         `json:"focused"`
	Monitor    MonitorState `json:"monitor"`
	OpenedAt   time.Time    `json:"openedAt"`
}

type OpenResult struct {
	Session  Session `json:"session"`
	Revealed bool    `json:"revealed"`
	Warning  string  `json:"warning,omitempty"`
}

type Resolution string

const (
	ResolveReload    Resolution = "reload"
	ResolveCompare   Resolution = "compare"
	ResolveKeepLocal Resolution = "keepLocal"
)

type ResolveResult struct {
	Session Session `json:"session"`
	Diff    string  `json:"diff,omitempty"`
}

// ErrNoSession is returned for operations on a key with no open editor.
var ErrNoSession = &kube.Error{Type: kube.ErrNotFound, Message: "no editor is open for this resource"}

// Coordinator owns the open editors. At most one session exists per
// resource key.
type Coordinator struct {
	client    ResourceClient
	perms     *PermissionChecker
	detector  *ConflictDetector
	refresher Refresher
	bus       events.Publisher
	clock     clock.PassiveClock
	log       logr.Logger

	opens    singleflight.Group
	monitors sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session
}

type CoordinatorOption func(*Coordinator)

func WithRefresher(r Refresher) CoordinatorOption {
	return func(c *Coordinator) { c.refresher = r }
}

func WithCoordinatorClock(clk clock.PassiveClock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clk }
}

func NewCoordinator(client ResourceClient, perms *PermissionChecker, detector *ConflictDetector, bus events.Publisher, log logr.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		client:   client,
		perms:    perms,
		detector: detector,
		bus:      bus,
		clock:    clock.RealClock{},
		log:      log.WithName("editor"),
		sessions: map[string]*Session{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) snapshot(s *Session) Session {
	out := *s
	if s.ReadOnly {
		out.Monitor = StateDisabled
	} else {
		out.Monitor = c.detector.State(s.Key)
	}
	return out
}

// Open returns the session for id, creating it on first use. Concurrent
// opens of the same key share one fetch; every caller but the creator gets
// Revealed set.
func (c *Coordinator) Open(ctx context.Context, id ResourceID) (OpenResult, error) {
	if err := id.Validate(); err != nil {
		return OpenResult{}, err
	}
	key := id.Key()

	c.mu.Lock()
	if s, ok := c.sessions[key]; ok {
		out := c.snapshot(s)
		c.mu.Unlock()
		return OpenResult{Session: out, Revealed: true}, nil
	}
	c.mu.Unlock()

	created := false
	v, err, _ := c.opens.Do(key, func() (any, error) {
		res, err := c.open(ctx, id)
		if err == nil {
			created = true
		}
		return res, err
	})
	if err != nil {
		return OpenResult{}, err
	}
	res := v.(OpenResult)
	res.Revealed = res.Revealed || !created
	return res, nil
}

func (c *Coordinator) open(ctx context.Context, id ResourceID) (OpenResult, error) {
	key := id.Key()

	level := c.perms.Check(ctx, id)
	if level == LevelNone {
		return OpenResult{}, &kube.Error{
			Type:    kube.ErrPermissionDenied,
			Message: fmt.Sprintf("no permission to view %s %s", id.Kind, id.Name),
		}
	}

	obj, err := c.client.Get(ctx, id)
	if err != nil {
		return OpenResult{}, err
	}
	content, err := kube.ResourceYAML(obj)
	if err != nil {
		return OpenResult{}, err
	}

	s := &Session{
		ID:         uuid.NewString(),
		Key:        key,
		Resource:   id,
		Version:    obj.GetResourceVersion(),
		Content:    content,
		Original:   content,
		ReadOnly:   !level.CanWrite(),
		Permission: level,
		Focused:    true,
		OpenedAt:   c.clock.Now(),
	}

	var warning string
	switch level {
	case LevelReadOnly:
		warning = "opened read-only: you do not have update permission"
	case LevelUnknown:
		warning = "opened read-only: permissions could not be verified"
	}

	c.mu.Lock()
	if existing, ok := c.sessions[key]; ok {
		out := c.snapshot(existing)
		c.mu.Unlock()
		return OpenResult{Session: out, Revealed: true}, nil
	}
	c.sessions[key] = s
	c.mu.Unlock()

	// monitors orders detector Start and Stop against Close. It is never
	// taken while holding c.mu: replacing a monitor waits for its check.
	c.monitors.Lock()
	c.mu.Lock()
	live := c.sessions[key] == s
	c.mu.Unlock()
	if live && !s.ReadOnly {
		c.detector.Start(id, s.Version, s.ID)
	}
	c.mu.Lock()
	if c.sessions[key] == s && !s.ReadOnly {
		// Catch up with edits made before the monitor existed.
		c.detector.SetFocused(key, s.Focused)
		c.detector.SetDirty(key, s.Dirty)
	}
	out := c.snapshot(s)
	c.mu.Unlock()
	c.monitors.Unlock()

	c.log.V(1).Info("editor opened", "key", key, "permission", level.String(), "resourceVersion", s.Version)
	return OpenResult{Session: out, Warning: warning}, nil
}

// Close discards the session and stops its monitoring.
func (c *Coordinator) Close(key string) bool {
	c.mu.Lock()
	s, ok := c.sessions[key]
	delete(c.sessions, key)
	c.mu.Unlock()
	if ok {
		// A session reopened meanwhile owns a different monitor.
		c.monitors.Lock()
		c.detector.Stop(key, s.ID)
		c.monitors.Unlock()
	}
	return ok
}

// CloseAll is called at shutdown.
func (c *Coordinator) CloseAll() {
	c.mu.Lock()
	c.sessions = map[string]*Session{}
	c.mu.Unlock()
	c.monitors.Lock()
	c.detector.StopAll()
	c.monitors.Unlock()
}

func (c *Coordinator) Session(key string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if !ok {
		return Session{}, false
	}
	return c.snapshot(s), true
}

func (c *Coordinator) Sessions() []Session {
	c.mu.Lock()
	out := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, c.snapshot(s))
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// withSession runs fn on the session at key. A non-empty sessionID must
// match, so work started for a closed session never lands on its successor.
func (c *Coordinator) withSession(key, sessionID string, fn func(s *Session)) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if !ok || (sessionID != "" && s.ID != sessionID) {
		return Session{}, ErrNoSession
	}
	fn(s)
	return c.snapshot(s), nil
}

// UpdateContent records the editor buffer. The session is dirty while the
// buffer differs from the last loaded or saved content.
func (c *Coordinator) UpdateContent(key, content string) (Session, error) {
	return c.withSession(key, "", func(s *Session) {
		s.Content = content
		s.Dirty = content != s.Original
		c.detector.SetDirty(key, s.Dirty)
	})
}

func (c *Coordinator) SetFocused(key string, focused bool) (Session, error) {
	return c.withSession(key, "", func(s *Session) {
		s.Focused = focused
		c.detector.SetFocused(key, focused)
	})
}

// Resolve applies the user's answer to a detected conflict.
func (c *Coordinator) Resolve(ctx context.Context, key string, r Resolution) (ResolveResult, error) {
	s, ok := c.Session(key)
	if !ok {
		return ResolveResult{}, ErrNoSession
	}

	switch r {
	case ResolveKeepLocal:
		c.detector.Disable(key)
		c.log.V(1).Info("conflict monitoring disabled", "key", key)
		s, _ = c.Session(key)
		return ResolveResult{Session: s}, nil

	case ResolveReload, ResolveCompare:
		obj, err := c.client.Get(ctx, s.Resource)
		if err != nil {
			return ResolveResult{}, err
		}
		live, err := kube.ResourceYAML(obj)
		if err != nil {
			return ResolveResult{}, err
		}

		if r == ResolveCompare {
			diff, err := unifiedDiff(s.Content, live)
			if err != nil {
				return ResolveResult{}, err
			}
			return ResolveResult{Session: s, Diff: diff}, nil
		}

		version := obj.GetResourceVersion()
		out, err := c.withSession(key, s.ID, func(s *Session) {
			s.Content = live
			s.Original = live
			s.Version = version
			s.Dirty = false
			c.detector.SetDirty(key, false)
			c.detector.Synced(key, version)
		})
		if err != nil {
			return ResolveResult{}, err
		}
		c.log.V(1).Info("editor reloaded from cluster", "key", key, "resourceVersion", version)
		return ResolveResult{Session: out}, nil
	}

	return ResolveResult{}, &kube.Error{Type: kube.ErrValidationFailed, Message: fmt.Sprintf("unknown resolution %q", r)}
}

func unifiedDiff(local, live string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(local),
		B:        difflib.SplitLines(live),
		FromFile: "local",
		ToFile:   "cluster",
		Context:  3,
	})
}
