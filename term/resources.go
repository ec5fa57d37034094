package term

import (
	"sync"

	"go.uber.org/atomic"
)

// ResourceTable reports which resource handles are live. The codec refuses
// to encode or decode handles it does not know.
type ResourceTable interface {
	Has(id uint64) bool
}

// ResourceEntry is one registered native object.
type ResourceEntry struct {
	Type   string
	Object any
}

// Resources is the default ResourceTable: a registry of native objects
// addressed by resource handles. Ids start at 1 and are never reused.
type Resources struct {
	mu      sync.RWMutex
	entries map[uint64]ResourceEntry
	next    atomic.Uint64
}

// NewResources creates an empty registry.
func NewResources() *Resources {
	return &Resources{entries: make(map[uint64]ResourceEntry)}
}

// Register stores obj under a fresh handle and returns it.
func (r *Resources) Register(typ string, obj any) Value {
	id := r.next.Inc()
	r.mu.Lock()
	r.entries[id] = ResourceEntry{Type: typ, Object: obj}
	r.mu.Unlock()
	return Resource(id)
}

// Get returns the entry behind a resource handle value.
func (r *Resources) Get(v Value) (ResourceEntry, bool) {
	if v.kind != KindResource {
		return ResourceEntry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[v.num]
	return e, ok
}

// Release drops the entry behind a handle. It reports whether it existed.
func (r *Resources) Release(v Value) bool {
	if v.kind != KindResource {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[v.num]
	delete(r.entries, v.num)
	return ok
}

// Has implements ResourceTable.
func (r *Resources) Has(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of live resources.
func (r *Resources) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
