// ABOUTME: Presence registry deriving online/offline state from session lifecycle
// ABOUTME: State is ephemeral, rebuilt purely from current connections, no replay

package presence

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Announcer receives best-effort presence transition broadcasts. There is
// no delivery guarantee and no persistence; a client that missed a
// transition reconciles from a fresh snapshot on reconnect.
type Announcer interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

// Registry is the authoritative view of which users are currently
// reachable. It implements session.PresenceSink and is driven exclusively
// by connection manager events.
type Registry struct {
	mu       sync.RWMutex
	online   map[string]int // userID -> live session count
	announce Announcer
	logger   *slog.Logger
}

// NewRegistry creates a Registry. The announcer may be set later with
// SetAnnouncer to break the construction cycle with the transport layer.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		online: make(map[string]int),
		logger: logger.With("component", "presence"),
	}
}

// SetAnnouncer wires the transition broadcaster. Must be called before
// sessions start registering.
func (r *Registry) SetAnnouncer(a Announcer) {
	r.announce = a
}

// SessionRegistered records a new live session. The first session for a
// user emits a came-online transition.
func (r *Registry) SessionRegistered(userID string, sessions int) {
	r.mu.Lock()
	r.online[userID]++
	first := r.online[userID] == 1
	r.mu.Unlock()

	if first {
		r.logger.Debug("user came online", "user_id", userID)
		if r.announce != nil {
			r.announce.UserOnline(userID)
		}
	}
}

// SessionUnregistered records a session going away. Removing the last
// session for a user emits a went-offline transition and drops the entry.
func (r *Registry) SessionUnregistered(userID string, remaining int) {
	r.mu.Lock()
	count, ok := r.online[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	count--
	last := count == 0
	if last {
		delete(r.online, userID)
	} else {
		r.online[userID] = count
	}
	r.mu.Unlock()

	if last {
		r.logger.Debug("user went offline", "user_id", userID)
		if r.announce != nil {
			r.announce.UserOffline(userID)
		}
	}
}

// IsOnline reports whether the user has at least one live session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online[userID] > 0
}

// OnlineSnapshot returns the sorted set of currently online user ids.
func (r *Registry) OnlineSnapshot() []string {
	r.mu.RLock()
	users := lo.Keys(r.online)
	r.mu.RUnlock()

	sort.Strings(users)
	return users
}
