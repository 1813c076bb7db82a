// Package toolstate owns the per-conversation map of enabled capabilities.
// Toggles apply locally first and roll back if the backend write fails, so
// the caller sees the switch bounce rather than silently losing the change.
package toolstate

import (
	"context"
	"fmt"
	"sync"

	"parley/pkg/chat"
)

// Persister writes a conversation's tool map to the backend. Production impl
// is remote.Client.
type Persister interface {
	PersistTools(ctx context.Context, sessionID string, tools map[string]bool) error
}

// Manager is the single writer of tool state. Safe for concurrent use.
type Manager struct {
	persister Persister
	defaults  map[string]bool // immutable after construction

	mu    sync.Mutex
	tools map[string]map[string]bool // session id -> tool name -> enabled
}

// New returns an empty Manager persisting through p.
func New(p Persister) *Manager {
	return NewWithDefaults(p, nil)
}

// NewWithDefaults is New with configured tool defaults overlaid on the base
// defaults for every conversation. Per-session overrides win over both.
func NewWithDefaults(p Persister, defaults map[string]bool) *Manager {
	return &Manager{
		persister: p,
		defaults:  chat.CloneTools(defaults),
		tools:     make(map[string]map[string]bool),
	}
}

// Seed installs the tool map for a conversation: defaults extended with the
// session's stored overrides. Tools added to the defaults after the session
// was created still show up with a sensible value.
func (m *Manager) Seed(sessionID string, overrides map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[sessionID] = m.seeded(overrides)
}

// seeded builds one conversation's starting tool map: base defaults, then
// configured defaults, then the session's own overrides.
func (m *Manager) seeded(overrides map[string]bool) map[string]bool {
	tools := chat.SeedTools(m.defaults)
	for name, enabled := range overrides {
		tools[name] = enabled
	}
	return tools
}

// Get returns a copy of the conversation's tool map, seeding defaults for an
// unknown id.
func (m *Manager) Get(sessionID string) map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return chat.CloneTools(m.ensureLocked(sessionID))
}

// Enabled reports one tool's current value.
func (m *Manager) Enabled(sessionID, tool string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(sessionID)[tool]
}

// SetEnabled applies the new value locally, then persists the full map for
// durable ids. If persistence fails the local value is rolled back, unless a
// later write to the same tool already superseded it, and the error is
// returned for the caller to surface. A value-preserving call is a no-op.
func (m *Manager) SetEnabled(ctx context.Context, sessionID, tool string, enabled bool) error {
	m.mu.Lock()
	tools := m.ensureLocked(sessionID)
	prior, known := tools[tool]
	if known && prior == enabled {
		m.mu.Unlock()
		return nil
	}
	tools[tool] = enabled
	snapshot := chat.CloneTools(tools)
	m.mu.Unlock()

	// The backend only has records for durable ids. Provisional and draft
	// keys stay local until reconciliation adopts them under a durable id.
	if !chat.IsDurableID(sessionID) {
		return nil
	}

	if err := m.persister.PersistTools(ctx, sessionID, snapshot); err != nil {
		m.rollback(sessionID, tool, enabled, prior, known)
		return fmt.Errorf("persist tool %s for %s: %w", tool, sessionID, err)
	}
	return nil
}

// Toggle inverts a tool's current value.
func (m *Manager) Toggle(ctx context.Context, sessionID, tool string) error {
	m.mu.Lock()
	current := m.ensureLocked(sessionID)[tool]
	m.mu.Unlock()
	return m.SetEnabled(ctx, sessionID, tool, !current)
}

// Adopt moves tool state accumulated under a provisional id to the durable
// id assigned at reconciliation.
func (m *Manager) Adopt(provisionalID, realID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tools, ok := m.tools[provisionalID]; ok {
		m.tools[realID] = tools
		delete(m.tools, provisionalID)
	}
}

// Forget drops all tool state for a conversation.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tools, sessionID)
}

// rollback restores the pre-toggle value, but only while the optimistic
// value is still in place: a later write to the same tool wins over a stale
// failure.
func (m *Manager) rollback(sessionID, tool string, wrote, prior bool, priorKnown bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tools, ok := m.tools[sessionID]
	if !ok || tools[tool] != wrote {
		return
	}
	if priorKnown {
		tools[tool] = prior
	} else {
		delete(tools, tool)
	}
}

func (m *Manager) ensureLocked(sessionID string) map[string]bool {
	tools, ok := m.tools[sessionID]
	if !ok {
		tools = m.seeded(nil)
		m.tools[sessionID] = tools
	}
	return tools
}
