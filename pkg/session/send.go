package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"parley/pkg/attach"
	"parley/pkg/chat"
)

// Send dispatches one outgoing message through the streaming pipeline and
// returns the terminal assistant message. Sends are single-flight per
// client: a call while one is in flight is a no-op failing with
// chat.ErrSendInFlight.
//
// The conversation id sent to the backend follows the phantom rule: a
// provisional selection, a draft, or a navigated-to id the backend has never
// confirmed all send an empty id, telling the backend to mint the
// conversation. The authoritative id then arrives on the meta frame (or the
// fallback reply) and reconciles local state.
func (o *Orchestrator) Send(ctx context.Context, text string) (chat.Message, error) {
	if o.pipeline.Sending() {
		return chat.Message{}, chat.ErrSendInFlight
	}

	o.mu.Lock()
	selected := o.selected
	phantom := o.phantom
	firstExchange := len(o.messages) == 0
	pendingKey := o.pendingKey
	o.mu.Unlock()

	attachmentIDs := o.gatherAttachments(selected)
	if strings.TrimSpace(text) == "" && len(attachmentIDs) == 0 {
		return chat.Message{}, chat.ErrEmptyMessage
	}

	target := selected
	if selected == "" || chat.IsProvisionalID(selected) || (phantom && firstExchange) {
		target = ""
	}

	// Effective tools for this request only: file search rides along with
	// attachments without touching persisted tool state.
	toolsKey := selected
	if toolsKey == "" {
		toolsKey = o.drafts.Snapshot().ClientID
	}
	effective := chat.EffectiveTools(o.tools.Get(toolsKey), len(attachmentIDs) > 0)

	key := ""
	if target == "" {
		// An implicit create: reuse the key of whichever create this send
		// supersedes, so the backend converges on one conversation.
		switch {
		case pendingKey != "":
			key = pendingKey
		case o.drafts.Snapshot().ClientID != "":
			key = o.drafts.Snapshot().ClientID
		default:
			key = chat.NewIdempotencyKey()
		}
	}

	now := o.nowFunc()
	userMsg := chat.Message{
		ID:            chat.NewMessageID(),
		Role:          chat.RoleUser,
		Content:       text,
		Status:        chat.StatusDelivered,
		Timestamp:     now,
		AttachmentIDs: attachmentIDs,
	}

	o.mu.Lock()
	o.sendSession = target
	o.sendProvisional = ""
	if chat.IsProvisionalID(selected) {
		o.sendProvisional = selected
	}
	o.sendOrigin = selected
	o.sendToolsKey = toolsKey
	o.sendUserAt = now
	o.messages = append(o.messages, userMsg)
	o.mu.Unlock()

	if selected != "" {
		o.registry.TouchMessage(selected, now)
	}
	o.drafts.Discard()
	o.logEvent(ctx, "send", selected, userMsg.ID)
	o.notify()

	req := chat.CompletionRequest{
		SessionID:      target,
		Text:           text,
		Model:          o.sessionModel(selected),
		AttachmentIDs:  attachmentIDs,
		Tools:          effective,
		IdempotencyKey: key,
	}
	final, err := o.pipeline.Send(ctx, req)
	if errors.Is(err, chat.ErrSendInFlight) {
		// Lost the race to another send: undo the optimistic user message,
		// making this call the no-op it claims to be.
		o.removeMessage(userMsg.ID)
		o.notify()
		return chat.Message{}, err
	}

	// Terminal bookkeeping runs on every outcome.
	o.mu.Lock()
	resolved := o.sendSession
	prov := o.sendProvisional
	o.sendSession, o.sendProvisional, o.sendOrigin, o.sendToolsKey = "", "", "", ""
	o.sendUserAt = time.Time{}
	o.mu.Unlock()

	// Ready attachments are consumed by the send, success or failure, so no
	// stale "files pending" state survives. The exact bucket a file landed
	// in depends on timing, so all candidates are cleared.
	buckets := []string{attach.DraftBucket}
	if resolved != "" {
		buckets = append(buckets, resolved)
	}
	if prov != "" {
		buckets = append(buckets, prov)
	}
	o.attachments.Clear(buckets...)

	if err != nil {
		if chat.IsNotFound(err) && selected != "" {
			o.markNotFound(ctx, selected)
		}
		o.logEvent(ctx, "send_failed", resolved, err.Error())
		o.notify()
		return final, err
	}

	if resolved != "" {
		o.registry.TouchMessage(resolved, o.nowFunc())
		o.cacheSession(ctx, resolved)
	}
	if firstExchange && resolved != "" && o.cfg.Titles != nil {
		go o.generateTitle(resolved, text)
	}
	o.logEvent(ctx, "send_delivered", resolved, final.ID)
	o.notify()
	return final, nil
}

// StopStreaming aborts the in-flight send, leaving the assistant message in
// its accumulated partial state.
func (o *Orchestrator) StopStreaming() {
	o.pipeline.Stop()
	o.logEvent(context.Background(), "stop", "", "")
}

// gatherAttachments unions the ready files a send can own: the draft bucket
// plus the selected conversation's bucket.
func (o *Orchestrator) gatherAttachments(selected string) []string {
	ids := o.attachments.ReadyIDs(attach.DraftBucket)
	if selected != "" {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
		}
		for _, id := range o.attachments.ReadyIDs(selected) {
			if !seen[id] {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// sessionModel resolves the completion model for a send.
func (o *Orchestrator) sessionModel(selected string) string {
	if selected != "" {
		if s, ok := o.registry.Get(selected); ok && s.Model != "" {
			return s.Model
		}
	}
	return o.model()
}

// messageIndexLocked returns the index of the message with the given id in
// the visible list, or -1 when absent. Callers hold o.mu.
func (o *Orchestrator) messageIndexLocked(id string) int {
	for i, m := range o.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// removeMessage deletes a message from the visible list by id.
func (o *Orchestrator) removeMessage(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, m := range o.messages {
		if m.ID == id {
			o.messages = append(o.messages[:i], o.messages[i+1:]...)
			return
		}
	}
}

// generateTitle names a fresh conversation from its first user message.
// Best-effort on a background budget: failures are logged, never surfaced.
func (o *Orchestrator) generateTitle(sessionID, firstUserMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TitleTimeout)
	defer cancel()

	title, err := o.cfg.Titles.GenerateTitle(ctx, firstUserMessage)
	if err != nil || strings.TrimSpace(title) == "" {
		o.logEvent(ctx, "title_failed", sessionID, "")
		return
	}

	o.registry.Rename(sessionID, title)
	if err := o.cfg.Sessions.UpdateSession(ctx, sessionID, SessionUpdate{Title: &title}); err != nil {
		o.logEvent(ctx, "title_persist_failed", sessionID, err.Error())
	}
	o.cacheSession(ctx, sessionID)
	o.logEvent(ctx, "title", sessionID, title)
	o.notify()
}

// --- Pipeline sink ---

// pipelineSink routes stream mutations into orchestrator state. Callbacks
// that arrive after the user switched away find no matching message and fall
// through harmlessly.
type pipelineSink struct {
	o *Orchestrator
}

func (s *pipelineSink) MessageStarted(placeholder chat.Message) {
	o := s.o
	o.mu.Lock()
	o.messages = append(o.messages, placeholder)
	o.mu.Unlock()
	o.notify()
}

func (s *pipelineSink) MessageProgress(placeholderID, content string) {
	o := s.o
	o.mu.Lock()
	if i := o.messageIndexLocked(placeholderID); i >= 0 && !o.messages[i].Status.Terminal() {
		o.messages[i].Content = content
		o.messages[i].Status = chat.StatusStreaming
	}
	o.mu.Unlock()
	o.notify()
}

func (s *pipelineSink) MessageFinished(placeholderID string, final chat.Message) {
	o := s.o
	o.mu.Lock()
	if i := o.messageIndexLocked(placeholderID); i >= 0 {
		o.messages[i] = final
	}
	o.mu.Unlock()
	o.notify()
}

// SessionResolved reconciles the backend-announced id with local state. For
// a provisional selection it drives the same reconciliation as an explicit
// create; for a draft send it surfaces and selects the fresh conversation.
func (s *pipelineSink) SessionResolved(realID string) {
	o := s.o
	ctx := context.Background()

	o.mu.Lock()
	o.sendSession = realID
	prov := o.sendProvisional
	origin := o.sendOrigin
	toolsKey := o.sendToolsKey
	selected := o.selected
	userAt := o.sendUserAt
	o.mu.Unlock()

	switch {
	case selected == realID:
		return

	case prov != "":
		real := chat.Session{
			ID:        realID,
			Title:     "New conversation",
			Model:     o.sessionModel(prov),
			CreatedAt: o.nowFunc(),
			UpdatedAt: o.nowFunc(),
		}
		o.reconcile(ctx, prov, real)
		if !userAt.IsZero() {
			o.registry.TouchMessage(realID, userAt)
		}

	case selected == origin:
		// The send originated here, from a draft, an unset selection, or a
		// phantom id, and the user has not moved since. Adopt the minted
		// conversation in place.
		now := o.nowFunc()
		o.registry.InsertConfirmed(chat.Session{
			ID:        realID,
			Title:     "New conversation",
			Model:     o.sessionModel(origin),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if origin != "" {
			o.tools.Adopt(origin, realID)
			o.cache.Forget(origin)
		} else if toolsKey != "" {
			// Draft-keyed tool choices follow the send into the minted
			// conversation.
			o.tools.Adopt(toolsKey, realID)
		}
		o.registry.SetTools(realID, o.tools.Get(realID))
		o.cache.MarkHydrated(realID)

		o.mu.Lock()
		if o.selected == origin && !o.chatNotFound {
			o.selected = realID
			o.phantom = false
		}
		o.mu.Unlock()

		if !userAt.IsZero() {
			o.registry.TouchMessage(realID, userAt)
		}
		o.logEvent(ctx, "resolved", realID, "")
		o.notify()

	default:
		// The user switched away mid-send; keep the conversation in the
		// list without touching the selection.
		now := o.nowFunc()
		o.registry.InsertConfirmed(chat.Session{
			ID:        realID,
			Title:     "New conversation",
			Model:     o.model(),
			CreatedAt: now,
			UpdatedAt: now,
		})
		o.notify()
	}
}
