package interview

import (
	"context"
	"fmt"
	"sync"
)

// Factory builds a new Session for the given script. The gateway supplies
// per-connection configuration (audio sink, voice settings) through the
// closure.
type Factory func(scriptID string) (*Session, error)

// Manager enforces the one-active-session-at-a-time constraint of the shared
// microphone and synthesizer: starting a new interview while another is
// active ends the prior one first.
//
// Safe for concurrent use.
type Manager struct {
	newSession Factory

	mu     sync.Mutex
	active *Session
}

// NewManager creates a Manager that builds sessions with newSession.
func NewManager(newSession Factory) *Manager {
	return &Manager{newSession: newSession}
}

// Start creates and starts a session for scriptID. Any still-active prior
// session is ended first; two sessions never run concurrently.
func (m *Manager) Start(ctx context.Context, scriptID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.active.Snapshot().State.terminal() {
		if err := m.active.End(ctx); err != nil {
			return nil, fmt.Errorf("interview: end prior session: %w", err)
		}
	}
	m.active = nil

	sess, err := m.newSession(scriptID)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	m.active = sess
	return sess, nil
}

// Active returns the current session, or nil if none was started.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// End terminates the active session, if any.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.End(ctx)
}
