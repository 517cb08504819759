package payment

import (
	"context"
	"sync"
	"time"
)

const defaultRetention = 15 * time.Minute

// Registry tracks live payment sessions by id
type Registry struct {
	deps      Deps
	retention time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry. Finished sessions stay readable for
// retention before they are pruned.
func NewRegistry(deps Deps, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Registry{
		deps:      deps.withDefaults(),
		retention: retention,
		sessions:  make(map[string]*Session),
	}
}

// Open creates, registers and starts a session. A session that failed to
// issue its charge is still registered and returned with the error.
func (r *Registry) Open(ctx context.Context, params Params) (*Session, error) {
	r.prune()

	s := NewSession(params, r.deps)
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	return s, s.Start(ctx)
}

// Get returns a registered session
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes and unregisters a session
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (r *Registry) prune() {
	cutoff := r.deps.Clock.Now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if at, done := s.finished(); done && at.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}
