package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sessionEntry struct {
	session  *Session
	lastSeen time.Time
}

// Sessions is the registry of live sessions. Sessions idle for longer than the
// TTL are evicted by Run.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		sessions: make(map[string]*sessionEntry),
		ttl:      ttl,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Create registers a new session.
func (r *Sessions) Create() *Session {
	s := NewSession()
	r.mu.Lock()
	r.sessions[s.ID()] = &sessionEntry{session: s, lastSeen: r.now()}
	r.mu.Unlock()
	return s
}

// Get returns the session and marks it as used.
func (r *Sessions) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e.session, nil
}

func (r *Sessions) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Evict drops idle sessions and returns how many were removed. A session in
// the middle of a turn is never evicted.
func (r *Sessions) Evict() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.sessions {
		if e.lastSeen.After(cutoff) || e.session.busy() {
			continue
		}
		delete(r.sessions, id)
		n++
	}
	return n
}

// Run evicts idle sessions periodically until ctx is done.
func (r *Sessions) Run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Evict(); n > 0 {
				r.logger.Info("evicted idle sessions", "count", n, "remaining", r.Len())
			}
		}
	}
}
