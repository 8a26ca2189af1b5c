package memfs

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds every live mount, keyed by the token the kernel client
// presents on each call. Each mount is an independent namespace instance.
type Registry struct {
	mu     sync.RWMutex
	mounts map[string]*Mount
	limits Limits
}

func NewRegistry(limits Limits) *Registry {
	return &Registry{
		mounts: make(map[string]*Mount),
		limits: limits,
	}
}

// Mount creates a new mount instance. An empty token gets a generated one.
func (r *Registry) Mount(token, rawOptions string) (*Mount, error) {
	if token == "" {
		token = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mounts[token]; exists {
		return nil, ErrExist
	}
	m, err := NewMount(token, rawOptions, r.limits)
	if err != nil {
		return nil, err
	}
	r.mounts[token] = m
	return m, nil
}

// Get returns the mount for a token.
func (r *Registry) Get(token string) (*Mount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mounts[token]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

// Unmount tears down and removes the mount for a token.
func (r *Registry) Unmount(token string) error {
	r.mu.Lock()
	m, ok := r.mounts[token]
	if ok {
		delete(r.mounts, token)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return m.Unmount()
}

// UnmountAll tears down every mount, used at server shutdown.
func (r *Registry) UnmountAll() {
	r.mu.Lock()
	mounts := make([]*Mount, 0, len(r.mounts))
	for _, m := range r.mounts {
		mounts = append(mounts, m)
	}
	r.mounts = make(map[string]*Mount)
	r.mu.Unlock()

	for _, m := range mounts {
		_ = m.Unmount()
	}
}

// Len reports the number of live mounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mounts)
}
