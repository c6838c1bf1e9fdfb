package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shellpane/shellpane/internal/events"
	"github.com/shellpane/shellpane/pkg/types"
)

// Manager is the get-or-create/remove/clear façade over Storage. It is the
// only component that constructs and initializes sessions; distinct ids
// never share a pane, environment or cwd.
type Manager struct {
	storage *Storage
	broker  *events.Broker
	logger  *slog.Logger

	mu       sync.Mutex // serializes create races per process
	defaults Options

	maxSessions int
}

// NewManager builds a manager with per-session defaults. broker may be nil.
func NewManager(defaults Options, maxSessions int, broker *events.Broker, logger *slog.Logger) *Manager {
	if maxSessions <= 0 {
		maxSessions = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		storage:     NewStorage(),
		broker:      broker,
		logger:      logger,
		defaults:    defaults,
		maxSessions: maxSessions,
	}
}

// GetOrCreate returns the session for id, creating and initializing it on
// first use. workDir and the option overrides apply only at creation.
func (m *Manager) GetOrCreate(id, workDir string, override func(*Options)) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if s := m.storage.Get(id); s != nil {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check under the create lock.
	if s := m.storage.Get(id); s != nil {
		return s, nil
	}
	if m.storage.Count() >= m.maxSessions {
		return nil, fmt.Errorf("max sessions reached (%d)", m.maxSessions)
	}

	opts := m.defaults
	if workDir != "" {
		opts.WorkDir = workDir
	}
	if override != nil {
		override(&opts)
	}
	opts.Logger = m.logger

	s := New(id, opts)
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	m.storage.Set(id, s)
	m.publish(id, types.EventSessionCreated)
	m.logger.Info("session created", "session_id", id, "work_dir", opts.WorkDir)
	return s, nil
}

// Get returns the session for id without creating one.
func (m *Manager) Get(id string) *Session {
	return m.storage.Get(id)
}

// Remove closes and evicts the session for id.
func (m *Manager) Remove(id string) bool {
	s := m.storage.Get(id)
	if s != nil {
		_ = s.Close()
	}
	ok := m.storage.Remove(id)
	if ok {
		m.publish(id, types.EventSessionClosed)
		m.logger.Info("session removed", "session_id", id)
	}
	return ok
}

// ClearAll closes and evicts every session, returning how many there were.
func (m *Manager) ClearAll() int {
	ids := m.storage.IDs()
	for _, id := range ids {
		m.Remove(id)
	}
	return len(ids)
}

// CleanupExpired sweeps sessions idle longer than maxAge.
func (m *Manager) CleanupExpired(maxAge time.Duration) int {
	n := m.storage.CleanupExpired(maxAge)
	if n > 0 {
		m.logger.Info("expired sessions swept", "removed", n, "max_age", maxAge)
	}
	return n
}

// IDs lists all live session ids.
func (m *Manager) IDs() []string { return m.storage.IDs() }

// Count returns the number of live sessions.
func (m *Manager) Count() int { return m.storage.Count() }

// Infos snapshots every live session for the management surface.
func (m *Manager) Infos() []types.SessionInfo {
	ids := m.storage.IDs()
	infos := make([]types.SessionInfo, 0, len(ids))
	for _, id := range ids {
		last := m.storage.LastAccess(id)
		if s := m.storage.Get(id); s != nil {
			info := s.Info()
			info.LastAccess = last
			infos = append(infos, info)
		}
	}
	return infos
}

func (m *Manager) publish(sessionID string, kind types.EventKind) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(types.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	})
}
