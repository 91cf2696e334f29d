// Package session implements the per-session workspace scope described in
// spec §4.7: a single process-wide "current session" slot, deterministic
// workspace roots, a pool of pre-warmed session directories, and a file
// manager that confines every path crossing into the workspace tools to
// the session root.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	mcp "github.com/agentrt/toolrt"
	"github.com/agentrt/toolrt/internal/isolation"
)

// Session is the data-model record from spec §3: {session_id,
// workspace_root, created_at}, plus the isolation level (§4.8) new
// processes spawned under this session should run at.
type Session struct {
	ID             string
	Workspace      string
	CreatedAt      time.Time
	IsolationLevel isolation.Level
}

// Manager vends per-session workspace roots and enforces single-current-
// session semantics. The current-session slot is updated with
// last-writer-wins semantics via atomic.Value, matching §5's ordering
// guarantee that readers may observe a switch mid-call.
type Manager struct {
	rootsDir string

	mu       sync.RWMutex
	sessions map[string]*Session

	current atomic.Value // holds string (session id), "" means none

	poolMu sync.Mutex
	pool   []string
}

// NewManager creates a session manager rooted at rootsDir (created if
// absent). rootsDir corresponds to {app_data}/sessions in spec §6's
// file-system layout.
func NewManager(rootsDir string) (*Manager, error) {
	if err := os.MkdirAll(rootsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session roots dir: %w", err)
	}
	m := &Manager{
		rootsDir: rootsDir,
		sessions: make(map[string]*Session),
	}
	m.current.Store("")
	return m, nil
}

// CreateSession creates a new session at the default (Medium) isolation
// level. See CreateSessionWithLevel.
func (m *Manager) CreateSession(id string, usePool bool) (*Session, error) {
	return m.CreateSessionWithLevel(id, usePool, isolation.Medium)
}

// CreateSessionWithLevel creates a new session, generating an id via uuid
// if id is empty, and returns it. usePool, if true and a pooled directory
// is available, recycles one instead of creating fresh. level is stored on
// the session and used by execute_shell (sync and async) as the default
// isolation level for processes spawned under it (§4.8, §6's
// create_session(id?, use_pool?, isolation_level?)).
func (m *Manager) CreateSessionWithLevel(id string, usePool bool, level isolation.Level) (*Session, error) {
	if id == "" {
		if usePool {
			if pooled, ok := m.takeFromPool(); ok {
				id = pooled
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
	}

	workspace := m.workspaceDirFor(id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	for _, sub := range []string{"exports/files", "exports/packages", "processes"} {
		if err := os.MkdirAll(filepath.Join(workspace, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace subdir %s: %w", sub, err)
		}
	}

	sess := &Session{ID: id, Workspace: workspace, CreatedAt: time.Now(), IsolationLevel: level}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	return sess, nil
}

// GetPooledSession pre-creates or recycles a warm session directory for
// fast switching, per §4.7.
func (m *Manager) GetPooledSession() (*Session, error) {
	if pooled, ok := m.takeFromPool(); ok {
		m.mu.RLock()
		s, exists := m.sessions[pooled]
		m.mu.RUnlock()
		if exists {
			return s, nil
		}
	}
	return m.CreateSession("", false)
}

func (m *Manager) takeFromPool() (string, bool) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	if len(m.pool) == 0 {
		return "", false
	}
	id := m.pool[len(m.pool)-1]
	m.pool = m.pool[:len(m.pool)-1]
	return id, true
}

// ReleaseToPool returns a session id to the warm pool for future recycling.
func (m *Manager) ReleaseToPool(id string) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	m.pool = append(m.pool, id)
}

// SetSession updates the current-session slot (last-writer-wins).
func (m *Manager) SetSession(id string) {
	m.current.Store(id)
}

// SetSessionAsync is semantically identical to SetSession — both update the
// same atomic slot — but exists as a distinct entry point mirroring the
// spec's sync/async pair of contract methods for callers that dispatch
// through an async API.
func (m *Manager) SetSessionAsync(id string) {
	m.SetSession(id)
}

// GetCurrentSession returns the current session id, or "" if none is set.
func (m *Manager) GetCurrentSession() string {
	v, _ := m.current.Load().(string)
	return v
}

// Get returns the session record for id, if known.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetSessionWorkspaceDir returns the deterministic workspace directory for
// the current session, or an error if no session is current.
func (m *Manager) GetSessionWorkspaceDir() (string, error) {
	id := m.GetCurrentSession()
	if id == "" {
		return "", ErrNoActiveSession
	}
	return m.workspaceDirFor(id), nil
}

func (m *Manager) workspaceDirFor(id string) string {
	return filepath.Join(m.rootsDir, id)
}

// ListSessions returns every known session, sorted by creation time is not
// guaranteed; callers needing order should sort explicitly.
func (m *Manager) ListSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// RemoveSession deletes a session's workspace directory and drops its
// record. It does not by itself terminate any processes still running
// under that session — callers (the control provider's remove_session)
// must call the process registry's on_session_end first.
func (m *Manager) RemoveSession(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if err := os.RemoveAll(m.workspaceDirFor(id)); err != nil {
		return fmt.Errorf("remove session workspace: %w", err)
	}
	return nil
}

// CleanupOldSessions removes sessions older than maxAge, keeping the
// keepRecent most recently created sessions regardless of age.
func (m *Manager) CleanupOldSessions(maxAge time.Duration, keepRecent int) []string {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	// Sort newest-first so the keepRecent most recent are always spared.
	for i := 0; i < len(sessions); i++ {
		for j := i + 1; j < len(sessions); j++ {
			if sessions[j].CreatedAt.After(sessions[i].CreatedAt) {
				sessions[i], sessions[j] = sessions[j], sessions[i]
			}
		}
	}

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for i, s := range sessions {
		if i < keepRecent {
			continue
		}
		if s.CreatedAt.Before(cutoff) {
			if err := m.RemoveSession(s.ID); err == nil {
				removed = append(removed, s.ID)
			}
		}
	}
	return removed
}

// ErrNoActiveSession corresponds to the §7 error taxonomy's -32002 "no
// active session" condition.
var ErrNoActiveSession error = &mcp.ToolError{
	Code:    -32002,
	Message: "no active session",
}
