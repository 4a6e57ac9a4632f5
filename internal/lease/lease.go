// Package lease provides a process-wide keyed mutual exclusion registry used
// to guarantee at most one in-flight upgrade per container.
package lease

import "sync"

type Registry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{held: make(map[string]struct{})}
}

// TryAcquire claims the key without blocking. A false return means another
// upgrade already holds the container; the caller skips, it never waits.
func (r *Registry) TryAcquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[key]; ok {
		return false
	}
	r.held[key] = struct{}{}
	return true
}

// Release frees the key. It is safe to call for a key that is not held, so
// callers can defer it unconditionally on every exit path.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, key)
}

// Held reports whether the key is currently claimed.
func (r *Registry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}
