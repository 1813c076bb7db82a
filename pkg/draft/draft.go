// Package draft owns the ephemeral pre-conversation state: the composing
// surface that exists before a conversation has any identifier. A draft
// carries a client-generated correlation id (the idempotency key for the
// eventual create request) and auto-expires if left untouched and empty.
package draft

import (
	"sync"
	"time"

	"parley/pkg/chat"
)

// DefaultExpiry is how long an empty, untouched draft survives before it is
// discarded automatically.
const DefaultExpiry = 2500 * time.Millisecond

// Config tunes a Manager.
type Config struct {
	// Expiry is the auto-discard delay for empty drafts. Zero means
	// DefaultExpiry.
	Expiry time.Duration

	// OnExpire, if set, runs after a draft auto-discards. It is invoked
	// outside the manager's lock.
	OnExpire func(clientID string)
}

func (c Config) withDefaults() Config {
	if c.Expiry <= 0 {
		c.Expiry = DefaultExpiry
	}
	return c
}

// Snapshot is a point-in-time copy of the draft state.
type Snapshot struct {
	Active    bool
	ClientID  string
	Model     string
	Text      string
	StartedAt time.Time
}

// Manager is the single writer of draft state. Safe for concurrent use.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	active    bool
	clientID  string
	model     string
	text      string
	startedAt time.Time
	gen       uint64 // bumped on every open/discard; stale timers check it
	timer     *time.Timer

	nowFunc func() time.Time
	newID   func() string
}

// New returns a Manager with no active draft.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
		newID:   chat.NewIdempotencyKey,
	}
}

// Open starts a fresh draft for the given model. Any previous draft and its
// expiry timer are replaced. The returned clientID doubles as the idempotency
// key for the create request this draft may eventually turn into.
func (m *Manager) Open(model string) (clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelTimerLocked()
	m.gen++
	m.active = true
	m.clientID = m.newID()
	m.model = model
	m.text = ""
	m.startedAt = m.nowFunc()

	gen := m.gen
	m.timer = time.AfterFunc(m.cfg.Expiry, func() { m.expire(gen) })
	return m.clientID
}

// Discard cancels the expiry timer and resets to the empty draft.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// SetText updates the draft text. Typing deliberately does not reschedule or
// cancel the expiry timer; only sending or navigating away does, through the
// orchestrator calling Discard.
func (m *Manager) SetText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.text = text
}

// Active reports whether a draft is open.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Snapshot returns a copy of the current draft state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Active:    m.active,
		ClientID:  m.clientID,
		Model:     m.model,
		Text:      m.text,
		StartedAt: m.startedAt,
	}
}

// expire runs on the timer goroutine. The generation check discards firings
// that lost a race with a newer Open or an explicit Discard.
func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.active || m.text != "" {
		m.mu.Unlock()
		return
	}
	clientID := m.clientID
	m.resetLocked()
	m.mu.Unlock()

	if m.cfg.OnExpire != nil {
		m.cfg.OnExpire(clientID)
	}
}

func (m *Manager) resetLocked() {
	m.cancelTimerLocked()
	m.gen++
	m.active = false
	m.clientID = ""
	m.model = ""
	m.text = ""
	m.startedAt = time.Time{}
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
