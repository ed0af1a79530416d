package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

type Kind string

const (
	KindTreeChanged      Kind = "treeChanged"
	KindConflictDetected Kind = "conflictDetected"
	KindNotice           Kind = "notice"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is the outward notification payload. Scope is a tree node ID, empty
// for the whole tree. Key is an editor key for conflict events.
type Event struct {
	Kind    Kind      `json:"kind"`
	Scope   string    `json:"scope,omitempty"`
	Key     string    `json:"key,omitempty"`
	Level   Level     `json:"level,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

func TreeChanged(scope string) Event {
	return Event{Kind: KindTreeChanged, Scope: scope, At: time.Now()}
}

func ConflictDetected(key string) Event {
	return Event{
		Kind:    KindConflictDetected,
		Key:     key,
		Level:   LevelWarning,
		Message: "resource changed on the cluster: Reload, Compare or Keep Local",
		At:      time.Now(),
	}
}

func Notice(level Level, msg string) Event {
	return Event{Kind: KindNotice, Level: level, Message: msg, At: time.Now()}
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(Event)
}

type subscription struct {
	ch      chan Event
	dropped atomic.Uint64
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event, which is counted and logged.
type Bus struct {
	log     logr.Logger
	dropped atomic.Uint64

	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
}

type BusOption func(*Bus)

// WithLogger reports dropped events at V(1).
func WithLogger(log logr.Logger) BusOption {
	return func(b *Bus) { b.log = log.WithName("events") }
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{log: logr.Discard(), subs: map[string]*subscription{}}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Dropped is the number of deliveries missed by slow subscribers since the
// bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe returns a subscription id and its event channel. The channel is
// closed by Unsubscribe or Close.
func (b *Bus) Subscribe(buffer int) (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return "", ch
	}
	id := uuid.New().String()
	b.subs[id] = &subscription{ch: ch}
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for id, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
			n := s.dropped.Add(1)
			b.log.V(1).Info("subscriber buffer full, event dropped",
				"subscription", id, "kind", ev.Kind, "key", ev.Key, "scope", ev.Scope, "dropped", n)
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}
