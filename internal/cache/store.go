package cache

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store is a concurrent keyed cache with optional expiry. A zero ttl keeps
// values until they are deleted or cleared.
type Store[V any] struct {
	mu      sync.RWMutex
	clock   clock.PassiveClock
	ttl     time.Duration
	entries map[string]entry[V]
}

func NewStore[V any](clk clock.PassiveClock, ttl time.Duration) *Store[V] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store[V]{clock: clk, ttl: ttl, entries: map[string]entry[V]{}}
}

func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || (s.ttl > 0 && !s.clock.Now().Before(e.expiresAt)) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (s *Store[V]) Set(key string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry[V]{value: v, expiresAt: s.clock.Now().Add(s.ttl)}
}

// Swap stores v and returns the previous value, expired or not.
func (s *Store[V]) Swap(key string, v V) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.entries[key]
	s.entries[key] = entry[V]{value: v, expiresAt: s.clock.Now().Add(s.ttl)}
	return prev.value, ok
}

func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *Store[V]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]entry[V]{}
}
