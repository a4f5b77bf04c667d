// Package lock provides the advisory locking that serializes
// read-modify-write sequences against persisted documents.
package lock

import "sync"

// Registry is a keyed advisory lock. Operations sharing a key never
// interleave; operations under different keys run fully in parallel.
// Each store instance owns its own Registry, so independent stores
// (for example in tests) never share lock state.
//
// The lock is process-local and not reentrant: calling WithLock for a
// key from inside an operation already holding that key deadlocks.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry returns an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// WithLock runs op while holding the advisory lock for key. A second
// caller for the same key begins only after the first caller's op has
// fully settled, success or failure. Once the queue for a key drains
// the key is forgotten; no state lingers.
func (r *Registry) WithLock(key string, op func() error) error {
	e := r.acquire(key)
	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		r.release(key, e)
	}()
	return op()
}

func (r *Registry) acquire(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	e.refs++
	return e
}

// release drops one reference to the key's entry. The entry is removed
// once the last holder or waiter is gone, which keeps the registry empty
// between bursts of activity.
func (r *Registry) release(key string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(r.entries, key)
	}
}

// activeKeys reports how many keys currently have holders or waiters.
func (r *Registry) activeKeys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
