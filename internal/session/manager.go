package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pdf-batch/backend/internal/batch"
	"github.com/rs/zerolog"
)

// MaxSessions is the default limit on concurrent client sessions.
const MaxSessions = 50

// SessionMaxAge is how long an idle session is kept before cleanup.
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long a recently accessed session is protected from cleanup.
const SessionKeepAliveWindow = 5 * time.Minute

// ErrTooManySessions is returned when every slot is held by a busy or recently used session.
var ErrTooManySessions = errors.New("too many active sessions")

// ControllerFactory builds the batch controller owned by a new session.
type ControllerFactory func() *batch.Controller

// Manager holds the client sessions. Each session owns one batch
// controller and therefore one local batch view.
type Manager struct {
	sessions    map[string]*SessionState
	mu          sync.RWMutex
	factory     ControllerFactory
	maxSessions int
	logger      zerolog.Logger
}

// SessionState is one client's controller and access bookkeeping.
type SessionState struct {
	ID           string
	Controller   *batch.Controller
	CreatedAt    time.Time
	LastAccessed time.Time
}

// NewManager creates a session manager. maxSessions <= 0 uses MaxSessions.
func NewManager(factory ControllerFactory, maxSessions int, logger zerolog.Logger) *Manager {
	if maxSessions <= 0 {
		maxSessions = MaxSessions
	}
	return &Manager{
		sessions:    make(map[string]*SessionState),
		factory:     factory,
		maxSessions: maxSessions,
		logger:      logger.With().Str("component", "session").Logger(),
	}
}

// CreateSession registers a new session with a fresh controller.
func (m *Manager) CreateSession() (*SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		m.evictIdleLocked(len(m.sessions) - m.maxSessions + 1)
	}
	if len(m.sessions) >= m.maxSessions {
		return nil, ErrTooManySessions
	}

	now := time.Now()
	state := &SessionState{
		ID:           uuid.New().String(),
		Controller:   m.factory(),
		CreatedAt:    now,
		LastAccessed: now,
	}
	m.sessions[state.ID] = state
	m.logger.Debug().Str("session_id", state.ID).Int("sessions", len(m.sessions)).Msg("session created")
	return state, nil
}

// evictIdleLocked removes up to n sessions that are not processing and
// were not accessed within the keep-alive window, least recently used first.
func (m *Manager) evictIdleLocked(n int) {
	keepAliveCutoff := time.Now().Add(-SessionKeepAliveWindow)

	var idle []*SessionState
	for _, state := range m.sessions {
		if state.Controller.State().Processing() {
			continue
		}
		if state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		idle = append(idle, state)
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].LastAccessed.Before(idle[j].LastAccessed) })

	for i := 0; i < n && i < len(idle); i++ {
		m.removeLocked(idle[i].ID)
		m.logger.Info().Str("session_id", idle[i].ID).Msg("evicted idle session to free a slot")
	}
}

func (m *Manager) removeLocked(id string) {
	state, ok := m.sessions[id]
	if !ok {
		return
	}
	state.Controller.Stop()
	delete(m.sessions, id)
}

// CleanupOldSessions removes sessions last accessed more than maxAge ago.
// Sessions with a batch in progress or inside the keep-alive window are
// kept. It returns the number of removed sessions.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-SessionKeepAliveWindow)

	removed := 0
	for id, state := range m.sessions {
		if state.Controller.State().Processing() {
			continue
		}
		if state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			m.removeLocked(id)
			removed++
			m.logger.Info().Str("session_id", id).
				Dur("idle", now.Sub(state.LastAccessed).Round(time.Second)).
				Msg("cleaned up aged session")
		}
	}
	return removed
}

// GetSession returns a session by ID.
func (m *Manager) GetSession(id string) (*SessionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	return state, ok
}

// TouchSession updates the LastAccessed timestamp for a session.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// DeleteSession stops and removes a session.
func (m *Manager) DeleteSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	m.removeLocked(id)
	return true
}

// Len returns the number of sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops every session's controller.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.sessions {
		m.removeLocked(id)
	}
}
