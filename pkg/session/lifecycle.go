package session

import (
	"context"
	"fmt"

	"parley/pkg/attach"
	"parley/pkg/chat"
)

// Select navigates to a conversation. Every call bumps the selection epoch,
// re-selecting the current conversation included, so consumers reset local
// sub-state on each entry. Switching to a different conversation invalidates
// its hydration record first: messages may have changed server-side while it
// was not selected. A not-found response parks the orchestrator in the
// recovery state.
func (o *Orchestrator) Select(ctx context.Context, id string) error {
	if err := chat.ValidateSessionID(id); err != nil {
		return err
	}

	o.mu.Lock()
	same := id == o.selected
	if !same {
		o.leaveCurrentLocked(ctx, id)
		_, known := o.registry.Get(id)
		o.selected = id
		o.phantom = !known
		o.messages = nil
	}
	o.epoch++
	o.chatNotFound = false
	o.mu.Unlock()

	if !same {
		o.drafts.Discard()
		o.cache.Invalidate(id)
	}
	o.logEvent(ctx, "select", id, "")
	o.notify()

	// For a re-select this is a no-op when hydrated and a retry when the
	// last load failed; for a switch it always fetches.
	err := o.cache.Load(ctx, id, func(msgs []chat.Message, total int) bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.selected != id {
			return false
		}
		o.messages = msgs
		o.phantom = false
		return true
	})
	if err != nil {
		if chat.IsNotFound(err) {
			o.markNotFound(ctx, id)
			return err
		}
		o.notices.Add(o.nowFunc(), NoticeWarn, "couldn't load history")
		o.notify()
		return err
	}

	o.notify()
	return nil
}

// StartDraft enters draft mode: nothing selected, a fresh client id minted,
// the empty-draft expiry armed. No-op when a draft is already open.
func (o *Orchestrator) StartDraft(ctx context.Context) {
	o.mu.Lock()
	if o.selected == "" && !o.chatNotFound && o.drafts.Active() {
		o.mu.Unlock()
		return
	}
	o.leaveCurrentLocked(ctx, "")
	o.epoch++
	o.selected = ""
	o.phantom = false
	o.chatNotFound = false
	o.messages = nil
	o.mu.Unlock()

	clientID := o.drafts.Open(o.cfg.Model)
	o.logEvent(ctx, "draft_open", "", clientID)
	o.notify()
}

// SetDraftText records composition progress. Typing never re-arms the
// expiry timer: a draft that has accumulated text is pinned until it is sent
// or discarded.
func (o *Orchestrator) SetDraftText(text string) {
	o.drafts.SetText(text)
	o.notify()
}

// StartNew creates a conversation explicitly: an optimistic entry appears in
// the list immediately under a provisional id, then the create request runs
// and the entry is reconciled with the server-confirmed session. A second
// call while one create is pending, or while the current selection is an
// empty still-optimistic conversation, fails fast with chat.ErrCreatePending
// so repeated clicks cannot mint empty conversations.
func (o *Orchestrator) StartNew(ctx context.Context) (chat.Session, error) {
	o.mu.Lock()
	if o.pendingCreate != "" {
		o.mu.Unlock()
		return chat.Session{}, chat.ErrCreatePending
	}
	if chat.IsProvisionalID(o.selected) && len(o.messages) == 0 {
		o.mu.Unlock()
		return chat.Session{}, chat.ErrCreatePending
	}

	prov := chat.NewProvisionalID()
	key := chat.NewIdempotencyKey()
	draftID := ""
	if snap := o.drafts.Snapshot(); snap.Active && snap.ClientID != "" {
		// The draft's correlation id is the idempotency key for the create
		// it was always going to become.
		key = snap.ClientID
		draftID = snap.ClientID
	}
	model := o.model()

	if _, err := o.registry.CreateOptimistic(prov, model, o.nowFunc()); err != nil {
		o.mu.Unlock()
		return chat.Session{}, err
	}
	if draftID != "" {
		// Tool choices made while composing follow the draft into the
		// conversation it becomes.
		o.tools.Adopt(draftID, prov)
	}
	o.epoch++
	o.selected = prov
	o.phantom = false
	o.chatNotFound = false
	o.messages = nil
	o.pendingCreate = prov
	o.pendingKey = key
	o.mu.Unlock()

	o.drafts.Discard()
	o.attachments.Rebucket(attach.DraftBucket, prov)
	o.cache.MarkHydrated(prov) // fresh conversation, known-empty
	o.logEvent(ctx, "create_optimistic", prov, "")
	o.notify()

	real, err := o.cfg.Sessions.CreateSession(ctx, model, o.tools.Get(prov), key)
	if err != nil {
		o.createFailed(ctx, prov, err)
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	return o.reconcile(ctx, prov, real), nil
}

// reconcile replaces the provisional entry with the server-confirmed
// session, re-points the selection if it still targets the provisional id,
// and migrates tool state, attachments, and hydration records to the durable
// id. The epoch is not bumped: the user never left the conversation.
func (o *Orchestrator) reconcile(ctx context.Context, prov string, real chat.Session) chat.Session {
	o.mu.Lock()
	if o.pendingCreate != prov {
		// The selection moved on before the create resolved; switching away
		// already cancelled the optimistic entry. Surface the confirmed
		// session in the list without touching the selection.
		o.mu.Unlock()
		o.registry.InsertConfirmed(real)
		o.cacheSession(ctx, real.ID)
		o.logEvent(ctx, "reconcile_stale", real.ID, prov)
		o.notify()
		return real
	}
	o.pendingCreate, o.pendingKey = "", ""
	if o.selected == prov {
		o.selected = real.ID
		o.phantom = false
	}
	o.mu.Unlock()

	stored := o.registry.Reconcile(prov, real)
	o.tools.Adopt(prov, real.ID)
	o.registry.SetTools(real.ID, o.tools.Get(real.ID))
	o.attachments.Rebucket(prov, real.ID)
	o.cache.Forget(prov)
	o.cache.MarkHydrated(real.ID)
	o.cacheSession(ctx, real.ID)
	o.logEvent(ctx, "reconcile", real.ID, prov)
	o.notify()
	return stored
}

// createFailed rolls the optimistic entry back out of existence and returns
// the user to draft mode to retry. Attachments staged under the provisional
// id move back to the draft bucket so uploads are not lost.
func (o *Orchestrator) createFailed(ctx context.Context, prov string, cause error) {
	o.mu.Lock()
	if o.pendingCreate != prov {
		o.mu.Unlock()
		o.logEvent(ctx, "create_failed_stale", prov, cause.Error())
		return
	}
	o.pendingCreate, o.pendingKey = "", ""
	repoint := o.selected == prov
	if repoint {
		o.selected = ""
		o.phantom = false
		o.messages = nil
		o.epoch++
	}
	o.mu.Unlock()

	o.registry.RemoveOptimistic(prov)
	o.tools.Forget(prov)
	o.cache.Forget(prov)
	o.attachments.Rebucket(prov, attach.DraftBucket)
	if repoint {
		o.drafts.Open(o.cfg.Model)
	}
	o.notices.Add(o.nowFunc(), NoticeError, "couldn't create conversation")
	o.logEvent(ctx, "create_failed", prov, cause.Error())
	o.notify()
}

// SeedSessions primes the conversation list from a local cache before the
// first server refresh, so the list renders instantly on startup.
func (o *Orchestrator) SeedSessions(list []chat.Session) {
	o.registry.ReplaceAll(list)
	for _, s := range list {
		o.tools.Seed(s.ID, s.ToolsEnabled)
	}
	o.notify()
}

// RefreshSessions replaces the conversation list with the server's. Pending
// provisional entries survive; tool state is re-seeded from the
// authoritative overrides.
func (o *Orchestrator) RefreshSessions(ctx context.Context) error {
	list, err := o.cfg.Sessions.ListSessions(ctx)
	if err != nil {
		o.notices.Add(o.nowFunc(), NoticeWarn, "couldn't refresh conversations")
		o.notify()
		return fmt.Errorf("list sessions: %w", err)
	}

	o.registry.ReplaceAll(list)
	for _, s := range list {
		o.tools.Seed(s.ID, s.ToolsEnabled)
	}
	o.logEvent(ctx, "refresh", "", fmt.Sprintf("%d sessions", len(list)))
	o.notify()
	return nil
}

// leaveCurrentLocked treats switching away from an unreconciled provisional
// conversation as implicit cancellation of its creation. A late create
// response then hits the stale path in reconcile.
func (o *Orchestrator) leaveCurrentLocked(ctx context.Context, next string) {
	if o.pendingCreate == "" || o.selected != o.pendingCreate || o.selected == next {
		return
	}
	prov := o.pendingCreate
	o.pendingCreate, o.pendingKey = "", ""
	o.registry.RemoveOptimistic(prov)
	o.tools.Forget(prov)
	o.cache.Forget(prov)
	o.attachments.Clear(prov)
	o.logEvent(ctx, "create_abandoned", prov, "selection moved before reconcile")
}

// markNotFound parks the orchestrator in the recovery state: the id stays in
// the list flagged not-found, the selection clears, and the caller presents
// the start-new recovery action.
func (o *Orchestrator) markNotFound(ctx context.Context, id string) {
	o.mu.Lock()
	o.registry.SetLifecycle(id, chat.LifecycleNotFound)
	if o.selected == id {
		o.selected = ""
		o.phantom = false
		o.messages = nil
		o.chatNotFound = true
	}
	o.mu.Unlock()

	o.logEvent(ctx, "not_found", id, "")
	o.notify()
}

// onDraftExpired runs on the draft manager's timer goroutine after an empty
// draft auto-discarded. Tool choices keyed by the dead draft evaporate with
// it.
func (o *Orchestrator) onDraftExpired(clientID string) {
	o.tools.Forget(clientID)
	o.logEvent(context.Background(), "draft_expired", "", clientID)
	o.notify()
}
