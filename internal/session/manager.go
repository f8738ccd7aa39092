// ABOUTME: Manages live sessions per user, handles registration, and session lookup
// ABOUTME: Central coordinator between transports, the router and the presence registry

package session

import (
	"log/slog"
	"sync"
)

// PresenceSink receives session lifecycle notifications. The manager calls
// it synchronously after the registry mutation but outside its lock, so
// implementations may call back into the Manager, e.g. to broadcast the
// transition to other sessions.
type PresenceSink interface {
	SessionRegistered(userID string, sessions int)
	SessionUnregistered(userID string, remaining int)
}

// Manager tracks every live session keyed by user id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session // userID -> sessionID -> session
	sink     PresenceSink
	logger   *slog.Logger
}

// NewManager creates a new Manager. The sink may be nil for tests that do
// not care about presence transitions.
func NewManager(sink PresenceSink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]map[string]*Session),
		sink:     sink,
		logger:   logger.With("component", "sessions"),
	}
}

// Register binds a session to its user. Multiple concurrent sessions per
// user are supported; each registration is additive.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	userSessions, ok := m.sessions[s.UserID]
	if !ok {
		userSessions = make(map[string]*Session)
		m.sessions[s.UserID] = userSessions
	}
	userSessions[s.ID] = s
	count := len(userSessions)
	m.mu.Unlock()

	m.logger.Info("session connected",
		"user_id", s.UserID,
		"session_id", s.ID,
		"user_sessions", count,
	)

	// Outside the lock: the sink may fan the transition back out through
	// Broadcast, which re-enters the manager.
	if m.sink != nil {
		m.sink.SessionRegistered(s.UserID, count)
	}
}

// Unregister removes exactly this session and closes it. Removing the last
// session for a user transitions the user offline via the presence sink.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	userSessions, ok := m.sessions[s.UserID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, exists := userSessions[s.ID]; !exists {
		m.mu.Unlock()
		return
	}

	delete(userSessions, s.ID)
	remaining := len(userSessions)
	if remaining == 0 {
		delete(m.sessions, s.UserID)
	}
	s.Close()
	m.mu.Unlock()

	m.logger.Info("session disconnected",
		"user_id", s.UserID,
		"session_id", s.ID,
		"user_sessions", remaining,
	)

	if m.sink != nil {
		m.sink.SessionUnregistered(s.UserID, remaining)
	}
}

// SessionsFor returns the live sessions for a user. The result is a copy;
// it may be ranged without holding any lock.
func (m *Manager) SessionsFor(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userSessions := m.sessions[userID]
	out := make([]*Session, 0, len(userSessions))
	for _, s := range userSessions {
		out = append(out, s)
	}
	return out
}

// Broadcast sends an event to every live session except those belonging to
// exceptUserID. Best effort: full or closed sessions are skipped.
func (m *Manager) Broadcast(evt Event, exceptUserID string) {
	m.mu.RLock()
	var targets []*Session
	for userID, userSessions := range m.sessions {
		if userID == exceptUserID {
			continue
		}
		for _, s := range userSessions {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(evt); err != nil {
			m.logger.Debug("broadcast skipped session",
				"session_id", s.ID,
				"event", evt.Name,
				"error", err,
			)
		}
	}
}
