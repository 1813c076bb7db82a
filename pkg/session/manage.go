package session

import (
	"context"
	"fmt"
	"strings"

	"parley/pkg/chat"
)

// SetToolEnabled flips one capability on the current surface: the selected
// conversation, or the open draft's upcoming conversation. The value applies
// locally first; a failed backend write bounces it back and surfaces the
// error.
func (o *Orchestrator) SetToolEnabled(ctx context.Context, tool string, enabled bool) error {
	key, err := o.toolsTarget()
	if err != nil {
		return err
	}

	if err := o.tools.SetEnabled(ctx, key, tool, enabled); err != nil {
		o.notices.Add(o.nowFunc(), NoticeWarn, "tool change didn't stick: "+tool)
		o.notify()
		return err
	}
	o.registry.SetTools(key, o.tools.Get(key))
	o.logEvent(ctx, "tool_set", key, fmt.Sprintf("%s=%t", tool, enabled))
	o.notify()
	return nil
}

// ToggleTool inverts one capability on the current surface.
func (o *Orchestrator) ToggleTool(ctx context.Context, tool string) error {
	key, err := o.toolsTarget()
	if err != nil {
		return err
	}
	return o.SetToolEnabled(ctx, tool, !o.tools.Enabled(key, tool))
}

// Tools returns the capability map for the current surface.
func (o *Orchestrator) Tools() map[string]bool {
	key, err := o.toolsTarget()
	if err != nil {
		return chat.BaseToolDefaults()
	}
	return o.tools.Get(key)
}

// toolsTarget picks the tool-state key for the current surface.
func (o *Orchestrator) toolsTarget() (string, error) {
	o.mu.Lock()
	selected := o.selected
	o.mu.Unlock()
	if selected != "" {
		return selected, nil
	}
	if snap := o.drafts.Snapshot(); snap.Active {
		return snap.ClientID, nil
	}
	return "", &chat.ValidationError{Field: "selection", Reason: "no conversation or draft to configure"}
}

// Rename retitles a conversation: locally at once, then on the backend. A
// failed backend write is surfaced but not rolled back; the stale title
// corrects itself on the next list refresh.
func (o *Orchestrator) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return &chat.ValidationError{Field: "title", Reason: "empty"}
	}
	if !o.registry.Rename(id, title) {
		return &chat.NotFoundError{SessionID: id}
	}
	o.notify()

	if !chat.IsDurableID(id) {
		return nil
	}
	if err := o.cfg.Sessions.UpdateSession(ctx, id, SessionUpdate{Title: &title}); err != nil {
		o.notices.Add(o.nowFunc(), NoticeWarn, "rename didn't reach the server")
		o.notify()
		return fmt.Errorf("rename %s: %w", id, err)
	}
	o.cacheSession(ctx, id)
	o.logEvent(ctx, "rename", id, title)
	return nil
}

// SetPinned pins or unpins a conversation, same optimistic-no-rollback
// discipline as Rename.
func (o *Orchestrator) SetPinned(ctx context.Context, id string, pinned bool) error {
	if !o.registry.SetPinned(id, pinned) {
		return &chat.NotFoundError{SessionID: id}
	}
	o.notify()

	if !chat.IsDurableID(id) {
		return nil
	}
	if err := o.cfg.Sessions.UpdateSession(ctx, id, SessionUpdate{Pinned: &pinned}); err != nil {
		o.notices.Add(o.nowFunc(), NoticeWarn, "pin didn't reach the server")
		o.notify()
		return fmt.Errorf("pin %s: %w", id, err)
	}
	o.cacheSession(ctx, id)
	o.logEvent(ctx, "pin", id, fmt.Sprintf("%t", pinned))
	return nil
}

// Delete removes a conversation. Durable conversations are deleted
// remote-first: on failure the entry simply stays visible. Deleting the
// current selection drops the user back into a fresh draft.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if chat.IsDurableID(id) {
		if err := o.cfg.Sessions.DeleteSession(ctx, id); err != nil {
			o.notices.Add(o.nowFunc(), NoticeWarn, "couldn't delete conversation")
			o.notify()
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}

	o.mu.Lock()
	if o.pendingCreate == id {
		o.pendingCreate, o.pendingKey = "", ""
	}
	repoint := o.selected == id
	if repoint {
		o.selected = ""
		o.phantom = false
		o.messages = nil
		o.chatNotFound = false
	}
	o.mu.Unlock()

	o.registry.Remove(id)
	o.tools.Forget(id)
	o.cache.Forget(id)
	o.attachments.Clear(id)
	o.dropCachedSession(ctx, id)
	o.logEvent(ctx, "delete", id, "")

	if repoint {
		o.StartDraft(ctx)
		return nil
	}
	o.notify()
	return nil
}
