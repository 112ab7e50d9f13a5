// ABOUTME: In-memory session store tracking per-connection handshake state.
// ABOUTME: Sessions are created on handshake and swept when their connection leaks.

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport identifies which wire binding a session belongs to.
type Transport string

const (
	// TransportLegacy is the SSE-stream-plus-write-endpoint binding.
	TransportLegacy Transport = "legacy"
	// TransportStreamable is the single-endpoint binding.
	TransportStreamable Transport = "streamable"
)

// Session correlates a client's handshake with its subsequent calls.
// ProtocolVersion is empty until the initialize handshake completes;
// the legacy binding creates the session before the handshake because
// the rendezvous event must carry the session ID.
type Session struct {
	ID              string
	Transport       Transport
	ProtocolVersion string
	CreatedAt       time.Time
	LastUsed        time.Time

	// serializes request dispatch so responses on one session are
	// emitted in request order even when the transport delivers
	// submissions concurrently
	dispatchMu sync.Mutex
}

// LockDispatch acquires the session's dispatch slot.
func (s *Session) LockDispatch() { s.dispatchMu.Lock() }

// UnlockDispatch releases the session's dispatch slot.
func (s *Session) UnlockDispatch() { s.dispatchMu.Unlock() }

// Initialized reports whether the handshake has completed.
func (s *Session) Initialized() bool { return s.ProtocolVersion != "" }

// Manager is the only component that touches session storage. All
// mutations are single atomic map operations under one lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates an empty session manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "session"),
		now:      time.Now,
	}
}

// Create registers a new session with a random 128-bit identifier.
// On the (negligible) chance of a collision the ID is regenerated.
func (m *Manager) Create(transport Transport, protocolVersion string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	for {
		if _, clash := m.sessions[id]; !clash {
			break
		}
		id = uuid.New().String()
	}

	now := m.now()
	sess := &Session{
		ID:              id,
		Transport:       transport,
		ProtocolVersion: protocolVersion,
		CreatedAt:       now,
		LastUsed:        now,
	}
	m.sessions[id] = sess

	m.logger.Debug("session created", "session_id", id, "transport", transport)
	return sess
}

// Get looks up a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	return sess, ok
}

// Touch refreshes a session's liveness timestamp.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		sess.LastUsed = m.now()
	}
	m.mu.Unlock()
}

// SetProtocolVersion records the negotiated version after handshake.
func (m *Manager) SetProtocolVersion(id, version string) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		sess.ProtocolVersion = version
		sess.LastUsed = m.now()
	}
	m.mu.Unlock()
}

// Close removes a session. Closing an unknown or already-closed
// session is a no-op; the bool reports whether an entry was removed.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if existed {
		m.logger.Debug("session closed", "session_id", id)
	}
	return existed
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than maxIdle and returns how
// many were reclaimed. Defends against streams that went away without
// an explicit close.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		if sess.LastUsed.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Info("swept expired sessions", "count", len(expired), "max_idle", maxIdle)
	}
	return len(expired)
}

// Run periodically sweeps expired sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(maxIdle)
		}
	}
}
