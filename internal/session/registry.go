package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/huyndo/notisync/internal/metrics"
)

// Factory builds a session for a recipient identity and credential. The
// registry stays ignorant of transports and upstream wiring.
type Factory func(identity, credential string) *Session

// Registry owns the live sessions, one per recipient identity.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  Factory
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
		logger:   logger,
	}
}

// Acquire returns the existing session for the identity or starts a new one.
// At most one session exists per identity at any time.
func (r *Registry) Acquire(ctx context.Context, identity, credential string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[identity]; ok {
		r.mu.Unlock()
		return s, nil
	}
	s := r.factory(identity, credential)
	r.sessions[identity] = s
	metrics.SetActiveSessions(len(r.sessions))
	r.mu.Unlock()

	// Backfill failures are fatal for session creation. A failed connect is
	// not: the session stays usable in degraded mode and the caller may
	// Retry.
	if err := s.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.sessions, identity)
		metrics.SetActiveSessions(len(r.sessions))
		r.mu.Unlock()
		s.Close()
		return nil, err
	}
	if s.Status() != StatusLive {
		r.logger.Warn("session started degraded", zap.String("identity", identity))
	}
	return s, nil
}

// Get returns the session for an identity, if one exists.
func (r *Registry) Get(identity string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// Release closes and removes the identity's session (logout/unmount).
func (r *Registry) Release(identity string) {
	r.mu.Lock()
	s, ok := r.sessions[identity]
	delete(r.sessions, identity)
	metrics.SetActiveSessions(len(r.sessions))
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Close tears down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	metrics.SetActiveSessions(0)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
