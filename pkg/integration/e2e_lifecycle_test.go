// Package integration_test wires a real orchestrator to the in-process dev
// server through the real HTTP client, exercising the full conversation
// lifecycle without mocking the transport.
package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"parley/internal/devserver"
	"parley/pkg/chat"
	"parley/pkg/remote"
	"parley/pkg/session"
	"parley/pkg/store"
)

// testHarness bundles the orchestrator with the collaborators behind it so
// tests can assert on both sides of the HTTP boundary.
type testHarness struct {
	orch   *session.Orchestrator
	client *remote.Client
	store  *store.Store
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	srv := devserver.New(devserver.Config{
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := remote.New(remote.Config{BaseURL: ts.URL})

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	orch := session.New(session.Config{
		Sessions:      client,
		History:       client,
		Completer:     client,
		ToolPersister: client,
		Uploader:      client,
		Titles:        client,
		Log:           st,
		// A long expiry keeps empty drafts alive for the test's duration.
		DraftExpiry: time.Hour,
	})

	return &testHarness{orch: orch, client: client, store: st}
}

// waitFor polls condition every tick until it returns true or timeout
// expires.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

// TestE2E_DraftToFirstReply exercises the happy path end to end:
//
//  1. A draft opens and the composer text pins it.
//  2. Send converts the draft into a real conversation via implicit create.
//  3. The reply streams back and lands delivered.
//  4. The provisional selection resolves to the durable server id.
//  5. A title is generated from the first user message.
//  6. The lifecycle shows up in the event log.
func TestE2E_DraftToFirstReply(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	h := newHarness(t)
	ctx := context.Background()

	h.orch.StartDraft(ctx)
	h.orch.SetDraftText("how do tides work?")

	snap := h.orch.Snapshot()
	if !snap.Draft.Active {
		t.Fatal("expected an active draft before the first send")
	}

	final, err := h.orch.Send(ctx, "how do tides work?")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if final.Status != chat.StatusDelivered {
		t.Errorf("final status = %q, want delivered", final.Status)
	}
	if !strings.Contains(final.Content, "how do tides work?") {
		t.Errorf("expected the echo reply to quote the prompt, got: %s", final.Content)
	}

	snap = h.orch.Snapshot()
	if snap.Draft.Active {
		t.Error("draft should be consumed by the send")
	}
	if snap.Selected == nil {
		t.Fatal("expected a selected conversation after the send")
	}
	if !strings.HasPrefix(snap.Selected.ID, "cs_") {
		t.Errorf("selection should be the durable id, got %q", snap.Selected.ID)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Role != chat.RoleUser || snap.Messages[1].Role != chat.RoleAssistant {
		t.Errorf("unexpected roles: %s, %s", snap.Messages[0].Role, snap.Messages[1].Role)
	}

	// Title generation runs on its own goroutine and budget.
	waitFor(t, func() bool {
		s := h.orch.Snapshot()
		return s.Selected != nil && s.Selected.Title == "How do tides work"
	}, 3*time.Second)

	list, err := h.client.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one conversation on the server, got %d", len(list))
	}
	if list[0].MessageCount != 2 {
		t.Errorf("server message count = %d, want 2", list[0].MessageCount)
	}

	events, err := h.store.RecentEvents(ctx, "", 50)
	if err != nil {
		t.Fatalf("RecentEvents() error: %v", err)
	}
	kinds := make(map[string]bool, len(events))
	for _, ev := range events {
		kinds[ev.Kind] = true
	}
	for _, want := range []string{"draft_open", "send", "resolved", "send_delivered"} {
		if !kinds[want] {
			t.Errorf("expected a %q event in the log, got %v", want, kinds)
		}
	}

	// The confirmed conversation is mirrored into the local cache, so a
	// restart could seed the list offline.
	cached, err := h.store.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("LoadSessions() error: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != snap.Selected.ID {
		t.Errorf("cache = %+v, want the confirmed conversation mirrored", cached)
	}
}

// TestE2E_ToolTogglePersistsToBackend flips a capability on a live
// conversation and checks the server kept it.
func TestE2E_ToolTogglePersistsToBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	h := newHarness(t)
	ctx := context.Background()

	h.orch.StartDraft(ctx)
	if _, err := h.orch.Send(ctx, "hello there"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	id := h.orch.Snapshot().Selected.ID

	if err := h.orch.SetToolEnabled(ctx, chat.ToolCodeRunner, true); err != nil {
		t.Fatalf("SetToolEnabled() error: %v", err)
	}

	waitFor(t, func() bool {
		list, err := h.client.ListSessions(ctx)
		if err != nil {
			return false
		}
		for _, s := range list {
			if s.ID == id {
				return s.ToolsEnabled[chat.ToolCodeRunner]
			}
		}
		return false
	}, 3*time.Second)
}

// TestE2E_ReselectHydratesFromServer leaves a conversation and comes back,
// expecting the transcript to rebuild from the backend.
func TestE2E_ReselectHydratesFromServer(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	h := newHarness(t)
	ctx := context.Background()

	h.orch.StartDraft(ctx)
	if _, err := h.orch.Send(ctx, "first message"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	id := h.orch.Snapshot().Selected.ID
	if _, err := h.orch.Send(ctx, "second message"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	epochBefore := h.orch.Epoch()

	// Leave for a draft, then come back.
	h.orch.StartDraft(ctx)
	if err := h.orch.Select(ctx, id); err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	waitFor(t, func() bool {
		s := h.orch.Snapshot()
		return len(s.Messages) == 4 && !s.IsHydrating
	}, 3*time.Second)

	snap := h.orch.Snapshot()
	if snap.Messages[0].Content != "first message" {
		t.Errorf("history out of order, first = %q", snap.Messages[0].Content)
	}
	if snap.Messages[2].Content != "second message" {
		t.Errorf("history out of order, third = %q", snap.Messages[2].Content)
	}
	if h.orch.Epoch() <= epochBefore {
		t.Errorf("epoch should bump on every selection event, before %d after %d", epochBefore, h.orch.Epoch())
	}
}

// TestE2E_VanishedConversationRecovery deletes the conversation out of band
// and drives the orchestrator through the not-found recovery path.
func TestE2E_VanishedConversationRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	h := newHarness(t)
	ctx := context.Background()

	h.orch.StartDraft(ctx)
	if _, err := h.orch.Send(ctx, "soon to vanish"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	id := h.orch.Snapshot().Selected.ID

	// Another device deletes the conversation.
	if err := h.client.DeleteSession(ctx, id); err != nil {
		t.Fatalf("DeleteSession() error: %v", err)
	}

	_, err := h.orch.Send(ctx, "anyone home?")
	if !chat.IsNotFound(err) {
		t.Fatalf("expected a not-found send failure, got: %v", err)
	}

	snap := h.orch.Snapshot()
	if !snap.ChatNotFound {
		t.Error("expected the not-found recovery state")
	}
	if snap.Selected != nil {
		t.Errorf("selection should clear, got %v", snap.Selected.ID)
	}

	// Starting fresh leaves the recovery state behind.
	h.orch.StartDraft(ctx)
	snap = h.orch.Snapshot()
	if snap.ChatNotFound {
		t.Error("a new draft should clear the recovery state")
	}
	if !snap.Draft.Active {
		t.Error("expected an active draft after recovery")
	}
}

// TestE2E_AttachmentRidesNextSend stages a file and checks it arrives with
// the following message.
func TestE2E_AttachmentRidesNextSend(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	h := newHarness(t)
	ctx := context.Background()

	h.orch.StartDraft(ctx)
	att, err := h.orch.StageAttachment(ctx, "notes.txt", strings.NewReader("tide tables"))
	if err != nil {
		t.Fatalf("StageAttachment() error: %v", err)
	}
	if att.ID == "" {
		t.Fatal("expected the upload to mint an attachment id")
	}

	if _, err := h.orch.Send(ctx, "see the attached notes"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	snap := h.orch.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap.Messages))
	}
	userMsg := snap.Messages[0]
	if len(userMsg.AttachmentIDs) != 1 || userMsg.AttachmentIDs[0] != att.ID {
		t.Errorf("user message attachments = %v, want [%s]", userMsg.AttachmentIDs, att.ID)
	}
	if got := len(h.orch.Attachments()); got != 0 {
		t.Errorf("staged files should be consumed by the send, %d left", got)
	}
}
