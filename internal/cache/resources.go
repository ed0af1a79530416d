package cache

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"kexplorer/internal/kube/dto"
)

// ResourceTTL is how long a captured ResourceSet is served as fresh.
const ResourceTTL = 30 * time.Second

// ResourceSet holds the primary collections of one context.
type ResourceSet struct {
	Nodes      []dto.NodeListItemDTO
	Namespaces []dto.NamespaceListItemDTO
	Pods       []dto.PodListItemDTO
	CapturedAt time.Time
}

// Epoch identifies a cache generation for one context. A writer records the
// epoch before fetching and the cache refuses the write if it moved since.
type Epoch struct {
	all uint64
	ctx uint64
}

// Resources is the per-context resource cache. Entries are replaced whole.
type Resources struct {
	mu      sync.RWMutex
	clock   clock.PassiveClock
	ttl     time.Duration
	entries map[string]*ResourceSet
	epochs  map[string]uint64
	all     uint64
}

func NewResources(clk clock.PassiveClock) *Resources {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Resources{
		clock:   clk,
		ttl:     ResourceTTL,
		entries: map[string]*ResourceSet{},
		epochs:  map[string]uint64{},
	}
}

// Get returns the entry of contextName only while it is younger than the TTL.
func (r *Resources) Get(contextName string) (*ResourceSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[contextName]
	if !ok || r.clock.Since(e.CapturedAt) >= r.ttl {
		return nil, false
	}
	return e, true
}

func (r *Resources) Epoch(contextName string) Epoch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Epoch{all: r.all, ctx: r.epochs[contextName]}
}

// Replace stores set for contextName, stamped with the current time, unless
// the context was invalidated after epoch was taken.
func (r *Resources) Replace(contextName string, epoch Epoch, set ResourceSet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch.all != r.all || epoch.ctx != r.epochs[contextName] {
		return false
	}
	set.CapturedAt = r.clock.Now()
	r.entries[contextName] = &set
	return true
}

func (r *Resources) Invalidate(contextName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, contextName)
	r.epochs[contextName]++
}

func (r *Resources) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[string]*ResourceSet{}
	r.all++
}
