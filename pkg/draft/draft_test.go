package draft_test

import (
	"testing"
	"time"

	"parley/pkg/draft"
)

func TestOpenStartsActiveDraft(t *testing.T) {
	t.Parallel()

	m := draft.New(draft.Config{})
	id := m.Open("parley-lite")

	if id == "" {
		t.Fatal("Open returned an empty client id")
	}
	if !m.Active() {
		t.Fatal("draft not active after Open")
	}

	snap := m.Snapshot()
	if snap.ClientID != id || snap.Model != "parley-lite" || snap.Text != "" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}

	if second := m.Open("parley-lite"); second == id {
		t.Error("reopening reused the previous client id")
	}
}

func TestEmptyDraftExpires(t *testing.T) {
	t.Parallel()

	expired := make(chan string, 1)
	m := draft.New(draft.Config{
		Expiry:   20 * time.Millisecond,
		OnExpire: func(clientID string) { expired <- clientID },
	})
	id := m.Open("parley-lite")

	select {
	case got := <-expired:
		if got != id {
			t.Errorf("expired client id = %q, want %q", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("draft never expired")
	}

	if m.Active() {
		t.Error("draft still active after expiry")
	}
}

func TestDraftWithTextDoesNotExpire(t *testing.T) {
	t.Parallel()

	expired := make(chan string, 1)
	m := draft.New(draft.Config{
		Expiry:   20 * time.Millisecond,
		OnExpire: func(clientID string) { expired <- clientID },
	})
	m.Open("parley-lite")
	m.SetText("hello there")

	select {
	case <-expired:
		t.Fatal("draft with text was discarded by the expiry timer")
	case <-time.After(100 * time.Millisecond):
	}

	if !m.Active() {
		t.Error("draft should survive expiry while it has text")
	}
	if got := m.Snapshot().Text; got != "hello there" {
		t.Errorf("draft text = %q", got)
	}
}

func TestDiscardCancelsExpiry(t *testing.T) {
	t.Parallel()

	expired := make(chan string, 1)
	m := draft.New(draft.Config{
		Expiry:   20 * time.Millisecond,
		OnExpire: func(clientID string) { expired <- clientID },
	})
	m.Open("parley-lite")
	m.Discard()

	if m.Active() {
		t.Fatal("draft active after Discard")
	}

	select {
	case <-expired:
		t.Fatal("expiry fired after an explicit Discard")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStaleTimerCannotKillNewerDraft(t *testing.T) {
	t.Parallel()

	m := draft.New(draft.Config{Expiry: 50 * time.Millisecond})
	m.Open("parley-lite")

	// Replace the draft before the first timer fires, then pin the new one
	// with text so its own timer is inert too.
	time.Sleep(10 * time.Millisecond)
	m.Open("parley-lite")
	m.SetText("still here")

	time.Sleep(150 * time.Millisecond)
	if !m.Active() {
		t.Fatal("a stale expiry timer discarded the replacement draft")
	}
}

func TestSetTextIgnoredWithoutDraft(t *testing.T) {
	t.Parallel()

	m := draft.New(draft.Config{})
	m.SetText("orphan")

	if snap := m.Snapshot(); snap.Active || snap.Text != "" {
		t.Errorf("SetText without an open draft mutated state: %+v", snap)
	}
}
