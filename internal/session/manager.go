package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager owns the live sessions. Its lock guards only the session map.
type Manager struct {
	pipeline *Pipeline
	idleTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(pipeline *Pipeline, idleTTL time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pipeline: pipeline,
		idleTTL:  idleTTL,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: map[string]*Session{},
	}
}

// Create starts a session for an authenticated identity and returns it; its
// ID is the bearer token.
func (m *Manager) Create(identity auth.Identity) *Session {
	session := newSession(m.newID(), identity, m.pipeline, m.now())

	m.mu.Lock()
	m.sessions[session.ID] = session
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	m.logger.Info("session created",
		slog.String("session_id", session.ID),
		slog.String("username", identity.Username),
		slog.String("tenant", identity.TenantID),
		slog.String("role", string(identity.Role)),
	)
	return session
}

// Get returns a live session and refreshes its idle timer.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := m.now()
	if m.expired(session, now) {
		m.Destroy(id)
		return nil, ErrSessionNotFound
	}
	session.touch(now)
	return session, nil
}

// Resolve lets the auth middleware accept session tokens.
func (m *Manager) Resolve(_ context.Context, token string) (auth.Identity, bool) {
	session, err := m.Get(token)
	if err != nil {
		return auth.Identity{}, false
	}
	return session.Identity(), true
}

func (m *Manager) Destroy(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	if ok {
		observability.SetActiveSessions(count)
		m.logger.Info("session destroyed", slog.String("session_id", id))
	}
	return ok
}

// Sweep removes idle sessions and returns how many were dropped.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	removed := 0
	for id, session := range m.sessions {
		if m.expired(session, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if removed > 0 {
		observability.SetActiveSessions(count)
		m.logger.Info("idle sessions expired", slog.Int("count", removed))
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) expired(session *Session, now time.Time) bool {
	return m.idleTTL > 0 && session.idleSince(now) > m.idleTTL
}
