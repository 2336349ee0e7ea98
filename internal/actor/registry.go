package actor

import "sync"

// Registry hands out one mutex per identity. Holding an identity's
// mutex is the single-writer section every identity-bearing operation
// runs inside.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

// handle returns the identity's mutex, creating it on first use.
// Handles live for the process lifetime.
func (r *Registry) handle(identity string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[identity]
	if !ok {
		m = &sync.Mutex{}
		r.locks[identity] = m
	}
	return m
}

// Lock acquires the identity's section and returns its release.
// Distinct identities never contend.
func (r *Registry) Lock(identity string) func() {
	m := r.handle(identity)
	m.Lock()
	return m.Unlock
}
