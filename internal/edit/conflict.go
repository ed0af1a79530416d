package edit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"kexplorer/internal/events"
)

// ConflictCheckInterval is the fixed delay between checks of an open editor.
const ConflictCheckInterval = 30 * time.Second

type MonitorState int

const (
	StateMonitoring MonitorState = iota
	StateConflict
	StatePaused
	StateDisabled
	StateClosed
)

func (s MonitorState) String() string {
	switch s {
	case StateMonitoring:
		return "Monitoring"
	case StateConflict:
		return "ConflictDetected"
	case StatePaused:
		return "Paused"
	case StateDisabled:
		return "Disabled"
	default:
		return "Closed"
	}
}

func (s MonitorState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type monitor struct {
	id    ResourceID
	key   string
	owner string

	mu       sync.Mutex
	version  string
	live     string
	focused  bool
	dirty    bool
	paused   int
	conflict bool
	disabled bool
	closed   bool

	inFlight atomic.Bool

	timer    clock.Timer
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (m *monitor) state() MonitorState {
	switch {
	case m.closed:
		return StateClosed
	case m.disabled:
		return StateDisabled
	case m.paused > 0:
		return StatePaused
	case m.conflict:
		return StateConflict
	default:
		return StateMonitoring
	}
}

// due reports whether a tick should reach the cluster.
func (m *monitor) due() bool {
	return m.focused && m.dirty && m.state() == StateMonitoring
}

// halt ends the run loop and waits for it, so the timer is stopped when it
// returns.
func (m *monitor) halt() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// ConflictDetector watches the resourceVersion of open read-write editors.
type ConflictDetector struct {
	client   ResourceClient
	bus      events.Publisher
	clock    clock.Clock
	interval time.Duration
	log      logr.Logger

	mu       sync.Mutex
	monitors map[string]*monitor
}

func NewConflictDetector(client ResourceClient, bus events.Publisher, clk clock.Clock, log logr.Logger) *ConflictDetector {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &ConflictDetector{
		client:   client,
		bus:      bus,
		clock:    clk,
		interval: ConflictCheckInterval,
		log:      log.WithName("conflicts"),
		monitors: map[string]*monitor{},
	}
}

// Start begins monitoring id from version on behalf of owner, normally a
// session id. The editor starts out focused and clean. An existing monitor
// for the same key is replaced.
func (d *ConflictDetector) Start(id ResourceID, version, owner string) {
	key := id.Key()
	m := &monitor{
		id:      id,
		key:     key,
		owner:   owner,
		version: version,
		focused: true,
		timer:   d.clock.NewTimer(d.interval),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	d.mu.Lock()
	prev := d.monitors[key]
	d.monitors[key] = m
	d.mu.Unlock()
	if prev != nil {
		d.halt(prev)
	}

	go d.run(m)
}

// run owns m.timer. The next check is scheduled once the current one has
// finished.
func (d *ConflictDetector) run(m *monitor) {
	defer close(m.done)
	defer m.timer.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-m.timer.C():
			d.check(context.Background(), m)
			m.timer.Reset(d.interval)
		}
	}
}

func (d *ConflictDetector) get(key string) *monitor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitors[key]
}

// CheckNow runs one check for key outside the schedule. It reports whether
// the check ran and whether it found a conflict.
func (d *ConflictDetector) CheckNow(ctx context.Context, key string) (ran, conflict bool) {
	m := d.get(key)
	if m == nil {
		return false, false
	}
	return d.check(ctx, m)
}

func (d *ConflictDetector) check(ctx context.Context, m *monitor) (ran, conflict bool) {
	m.mu.Lock()
	due, version := m.due(), m.version
	m.mu.Unlock()
	if !due {
		return false, false
	}
	if !m.inFlight.CompareAndSwap(false, true) {
		return false, false
	}
	defer m.inFlight.Store(false)

	obj, err := d.client.Get(ctx, m.id)
	if err != nil {
		// A failed fetch is not evidence of a conflict.
		d.log.V(1).Info("conflict check failed", "key", m.key, "err", err.Error())
		return true, false
	}

	live := obj.GetResourceVersion()
	m.mu.Lock()
	// The session may have moved on while the fetch was in flight.
	if m.version != version || m.state() != StateMonitoring || live == version {
		m.mu.Unlock()
		return true, false
	}
	m.conflict = true
	m.live = live
	m.mu.Unlock()

	d.log.Info("conflict detected", "key", m.key, "local", version, "live", live)
	if d.bus != nil {
		d.bus.Publish(events.ConflictDetected(m.key))
	}
	return true, true
}

func (d *ConflictDetector) update(key string, fn func(m *monitor)) {
	if m := d.get(key); m != nil {
		m.mu.Lock()
		fn(m)
		m.mu.Unlock()
	}
}

func (d *ConflictDetector) SetFocused(key string, focused bool) {
	d.update(key, func(m *monitor) { m.focused = focused })
}

func (d *ConflictDetector) SetDirty(key string, dirty bool) {
	d.update(key, func(m *monitor) { m.dirty = dirty })
}

// Pause suspends checks around a save. Pauses nest; each needs a Resume.
func (d *ConflictDetector) Pause(key string) {
	d.update(key, func(m *monitor) { m.paused++ })
}

func (d *ConflictDetector) Resume(key string) {
	d.update(key, func(m *monitor) {
		if m.paused > 0 {
			m.paused--
		}
	})
}

// Synced records version as the one the editor is based on and clears a
// pending conflict.
func (d *ConflictDetector) Synced(key, version string) {
	d.update(key, func(m *monitor) {
		m.version = version
		m.live = ""
		m.conflict = false
	})
}

// Disable stops monitoring key for the rest of the session (Keep Local).
func (d *ConflictDetector) Disable(key string) {
	m := d.get(key)
	if m == nil {
		return
	}
	m.mu.Lock()
	m.disabled = true
	m.conflict = false
	m.mu.Unlock()
	m.halt()
}

func (d *ConflictDetector) State(key string) MonitorState {
	m := d.get(key)
	if m == nil {
		return StateClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state()
}

// LiveVersion returns the version seen by the check that raised the conflict.
func (d *ConflictDetector) LiveVersion(key string) string {
	m := d.get(key)
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Stop ends monitoring of key if it is still owned by owner. When it
// returns the timer is stopped and no further conflict event for that
// monitor will be published.
func (d *ConflictDetector) Stop(key, owner string) {
	d.mu.Lock()
	m := d.monitors[key]
	if m != nil && m.owner != owner {
		m = nil
	}
	if m != nil {
		delete(d.monitors, key)
	}
	d.mu.Unlock()
	if m != nil {
		d.halt(m)
	}
}

func (d *ConflictDetector) halt(m *monitor) {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.halt()
}

func (d *ConflictDetector) StopAll() {
	d.mu.Lock()
	all := d.monitors
	d.monitors = map[string]*monitor{}
	d.mu.Unlock()
	for _, m := range all {
		d.halt(m)
	}
}
