// Package registry holds the ordered list of known conversations, metadata
// only. It supports optimistic insertion of locally-created entries and
// their reconciliation with server-confirmed ones. The registry is pure
// state: all backend I/O stays with the orchestrator.
package registry

import (
	"sync"
	"time"

	"parley/pkg/chat"
)

// Registry is the single writer of the conversation list. Safe for
// concurrent use.
type Registry struct {
	mu    sync.Mutex
	order []string // most recently surfaced first
	byID  map[string]*chat.Session
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*chat.Session)}
}

// CreateOptimistic inserts a locally-visible entry under a provisional id so
// the list reflects the new conversation before any network round-trip. The
// entry starts in LifecyclePendingCreate at the top of the list.
func (r *Registry) CreateOptimistic(provisionalID, model string, createdAt time.Time) (chat.Session, error) {
	if !chat.IsProvisionalID(provisionalID) {
		return chat.Session{}, &chat.ValidationError{Field: "session id", Reason: "optimistic insert requires a provisional id"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[provisionalID]; exists {
		return chat.Session{}, &chat.ValidationError{Field: "session id", Reason: "duplicate id " + provisionalID}
	}

	s := chat.Session{
		ID:           provisionalID,
		Title:        "New conversation",
		Model:        model,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
		ToolsEnabled: chat.BaseToolDefaults(),
		Lifecycle:    chat.LifecyclePendingCreate,
	}
	r.byID[provisionalID] = &s
	r.order = append([]string{provisionalID}, r.order...)
	return s.Clone(), nil
}

// Reconcile replaces the provisional entry with the server-confirmed one,
// keeping its position in the list. It converges regardless of races: after
// the call exactly one entry carries the durable id and none carries the
// provisional one.
func (r *Registry) Reconcile(provisionalID string, real chat.Session) chat.Session {
	real.Lifecycle = chat.LifecycleActive
	if real.ToolsEnabled == nil {
		real.ToolsEnabled = chat.BaseToolDefaults()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[real.ID]; exists {
		// A list refresh already brought the durable entry in. Drop the
		// provisional leftover and adopt the confirmed metadata.
		r.removeLocked(provisionalID)
		stored := real.Clone()
		r.byID[real.ID] = &stored
		return stored.Clone()
	}

	idx := r.indexLocked(provisionalID)
	if idx < 0 {
		// Provisional entry vanished (e.g. removed on a racing failure
		// signal) but the create did succeed server-side: surface it.
		stored := real.Clone()
		r.byID[real.ID] = &stored
		r.order = append([]string{real.ID}, r.order...)
		return stored.Clone()
	}

	delete(r.byID, provisionalID)
	stored := real.Clone()
	r.byID[real.ID] = &stored
	r.order[idx] = real.ID
	return stored.Clone()
}

// RemoveOptimistic deletes a provisional entry entirely, used when the
// create request fails. Reports whether an entry was removed.
func (r *Registry) RemoveOptimistic(provisionalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(provisionalID)
}

// InsertConfirmed surfaces a durable session the registry does not track
// yet, e.g. one minted by the backend during a draft send. No-op if the id
// is already present.
func (r *Registry) InsertConfirmed(s chat.Session) {
	s.Lifecycle = chat.LifecycleActive

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[s.ID]; exists {
		return
	}
	stored := s.Clone()
	r.byID[s.ID] = &stored
	r.order = append([]string{s.ID}, r.order...)
}

// ReplaceAll swaps in a server list, keeping any still-pending provisional
// entries at the top: the server cannot know about those yet.
func (r *Registry) ReplaceAll(list []chat.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var provisional []string
	kept := make(map[string]*chat.Session)
	for _, id := range r.order {
		if chat.IsProvisionalID(id) {
			provisional = append(provisional, id)
			kept[id] = r.byID[id]
		}
	}

	r.order = provisional
	r.byID = kept
	for _, s := range list {
		if _, dup := r.byID[s.ID]; dup {
			continue
		}
		s.Lifecycle = chat.LifecycleActive
		stored := s.Clone()
		r.byID[s.ID] = &stored
		r.order = append(r.order, s.ID)
	}
}

// Rename updates a title locally. Persistence failures are not rolled back;
// a stale local title is acceptable until the next full list reload.
func (r *Registry) Rename(id, title string) bool {
	return r.update(id, func(s *chat.Session) { s.Title = title })
}

// SetPinned updates the pin flag locally.
func (r *Registry) SetPinned(id string, pinned bool) bool {
	return r.update(id, func(s *chat.Session) { s.Pinned = pinned })
}

// SetModel records the completion model for a conversation.
func (r *Registry) SetModel(id, model string) bool {
	return r.update(id, func(s *chat.Session) { s.Model = model })
}

// SetTools mirrors the tool map onto the session metadata for list display.
// The authoritative copy lives with the tool-state manager.
func (r *Registry) SetTools(id string, tools map[string]bool) bool {
	return r.update(id, func(s *chat.Session) { s.ToolsEnabled = chat.CloneTools(tools) })
}

// SetLifecycle records a lifecycle transition.
func (r *Registry) SetLifecycle(id string, lc chat.Lifecycle) bool {
	return r.update(id, func(s *chat.Session) { s.Lifecycle = lc })
}

// TouchMessage records that a message was delivered at the given time,
// maintaining the timestamp metadata and the badge count.
func (r *Registry) TouchMessage(id string, at time.Time) bool {
	return r.update(id, func(s *chat.Session) {
		if s.FirstMessageAt.IsZero() {
			s.FirstMessageAt = at
		}
		s.LastMessageAt = at
		s.UpdatedAt = at
		s.MessageCount++
	})
}

// Remove deletes a session outright.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// Get returns a copy of one session.
func (r *Registry) Get(id string) (chat.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return chat.Session{}, false
	}
	return s.Clone(), true
}

// List returns copies of all sessions, pinned entries first, otherwise in
// registry order.
func (r *Registry) List() []chat.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]chat.Session, 0, len(r.order))
	for _, id := range r.order {
		if s := r.byID[id]; s.Pinned {
			out = append(out, s.Clone())
		}
	}
	for _, id := range r.order {
		if s := r.byID[id]; !s.Pinned {
			out = append(out, s.Clone())
		}
	}
	return out
}

// Len reports the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Registry) update(id string, fn func(*chat.Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

func (r *Registry) removeLocked(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	if idx := r.indexLocked(id); idx >= 0 {
		r.order = append(r.order[:idx], r.order[idx+1:]...)
	}
	return true
}

func (r *Registry) indexLocked(id string) int {
	for i, candidate := range r.order {
		if candidate == id {
			return i
		}
	}
	return -1
}
