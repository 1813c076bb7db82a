// Package hydrate tracks, per conversation, whether message history has been
// loaded, and collapses concurrent load attempts into a single request. It is
// the only writer of the hydrated/hydrating flags.
package hydrate

import (
	"context"
	"fmt"
	"sync"

	"parley/pkg/chat"
)

// History fetches a page of conversation messages. Production impl is
// remote.Client; tests use hand-rolled fakes.
type History interface {
	// Fetch returns messages oldest-first plus the total count on the
	// server. A missing conversation is reported as chat.NotFoundError.
	Fetch(ctx context.Context, sessionID string, limit, offset int) ([]chat.Message, int, error)
}

// DefaultPageSize bounds the initial history fetch.
const DefaultPageSize = 200

// Config tunes a Cache.
type Config struct {
	// PageSize is the limit for the initial fetch. Zero means
	// DefaultPageSize.
	PageSize int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	return c
}

type record struct {
	hydrated  bool
	hydrating bool
}

// Cache is the per-conversation hydration ledger. Safe for concurrent use.
type Cache struct {
	cfg     Config
	history History

	mu      sync.Mutex
	records map[string]record
}

// New returns an empty Cache reading history from h.
func New(h History, cfg Config) *Cache {
	return &Cache{
		cfg:     cfg.withDefaults(),
		history: h,
		records: make(map[string]record),
	}
}

// Load fetches history for sessionID unless it is already hydrated or a load
// is in flight, in which case it returns immediately with no side effects.
// On a successful fetch, apply is invoked with the messages and the server
// total; it must return true if it accepted the result. Returning false
// (e.g. the selection moved on) leaves the id unhydrated so the next Load
// fetches again. apply runs without any cache lock held.
func (c *Cache) Load(ctx context.Context, sessionID string, apply func(msgs []chat.Message, total int) bool) error {
	c.mu.Lock()
	rec := c.records[sessionID]
	if rec.hydrated || rec.hydrating {
		c.mu.Unlock()
		return nil
	}
	c.records[sessionID] = record{hydrating: true}
	c.mu.Unlock()

	msgs, total, err := c.history.Fetch(ctx, sessionID, c.cfg.PageSize, 0)
	if err != nil {
		c.finish(sessionID, false)
		return fmt.Errorf("load history for %s: %w", sessionID, err)
	}

	// An Invalidate or Forget that landed during the fetch wins: the result
	// is discarded and the next Load refetches.
	c.mu.Lock()
	abandoned := !c.records[sessionID].hydrating
	c.mu.Unlock()
	if abandoned {
		return nil
	}

	applied := apply(msgs, total)
	c.finish(sessionID, applied)
	return nil
}

// finish clears the in-flight flag and records success, unless the record
// was invalidated while the fetch or apply ran.
func (c *Cache) finish(sessionID string, hydrated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[sessionID]
	if !ok || !rec.hydrating {
		return
	}
	c.records[sessionID] = record{hydrated: hydrated}
}

// MarkHydrated records sessionID as hydrated without a fetch. Used for
// conversations minted by this client: their history is known-empty, so the
// first Load would be a pointless round-trip.
func (c *Cache) MarkHydrated(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[sessionID] = record{hydrated: true}
}

// Invalidate clears both flags for sessionID so the next Load fetches fresh
// history. Called on every session switch: messages may have changed
// server-side while the conversation was not selected.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, sessionID)
}

// Forget drops all hydration state for sessionID. Used when the conversation
// itself is deleted.
func (c *Cache) Forget(sessionID string) {
	c.Invalidate(sessionID)
}

// Hydrated reports whether sessionID has fresh history loaded.
func (c *Cache) Hydrated(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[sessionID].hydrated
}

// Hydrating reports whether a load is in flight for sessionID.
func (c *Cache) Hydrating(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[sessionID].hydrating
}
