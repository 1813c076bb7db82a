package registry_test

import (
	"testing"
	"time"

	"parley/pkg/chat"
	"parley/pkg/registry"
)

func durable(id, title string) chat.Session {
	return chat.Session{ID: id, Title: title, Model: "parley-lite"}
}

func TestCreateOptimisticInsertsAtTop(t *testing.T) {
	t.Parallel()

	r := registry.New()
	r.InsertConfirmed(durable("cs_old111222333", "older chat"))

	pid := chat.NewProvisionalID()
	s, err := r.CreateOptimistic(pid, "parley-lite", time.Now())
	if err != nil {
		t.Fatalf("CreateOptimistic: %v", err)
	}
	if s.Lifecycle != chat.LifecyclePendingCreate {
		t.Errorf("lifecycle = %s, want pending_create", s.Lifecycle)
	}

	list := r.List()
	if len(list) != 2 || list[0].ID != pid {
		t.Errorf("optimistic entry not at top: %+v", list)
	}
}

func TestCreateOptimisticRejectsDurableAndDuplicateIDs(t *testing.T) {
	t.Parallel()

	r := registry.New()
	if _, err := r.CreateOptimistic("cs_abc123def456", "m", time.Now()); err == nil {
		t.Error("durable id accepted as optimistic")
	}

	pid := chat.NewProvisionalID()
	if _, err := r.CreateOptimistic(pid, "m", time.Now()); err != nil {
		t.Fatalf("CreateOptimistic: %v", err)
	}
	if _, err := r.CreateOptimistic(pid, "m", time.Now()); err == nil {
		t.Error("duplicate provisional id accepted")
	}
}

func TestReconcileSwapsInPlace(t *testing.T) {
	t.Parallel()

	r := registry.New()
	r.InsertConfirmed(durable("cs_bbb222333444", "b"))
	pid := chat.NewProvisionalID()
	if _, err := r.CreateOptimistic(pid, "parley-lite", time.Now()); err != nil {
		t.Fatalf("CreateOptimistic: %v", err)
	}
	r.InsertConfirmed(durable("cs_aaa111222333", "a"))
	// order now: a, provisional, b

	real := durable("cs_new555666777", "fresh title")
	got := r.Reconcile(pid, real)
	if got.ID != real.ID || got.Lifecycle != chat.LifecycleActive {
		t.Errorf("reconciled session = %+v", got)
	}

	if _, ok := r.Get(pid); ok {
		t.Error("provisional entry survived reconciliation")
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("list length = %d, want 3", len(list))
	}
	if list[1].ID != real.ID {
		t.Errorf("durable entry not in the provisional slot: %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}
	if list[1].Title != "fresh title" {
		t.Errorf("metadata not adopted: %+v", list[1])
	}
}

func TestReconcileConvergesWhenRealAlreadyListed(t *testing.T) {
	t.Parallel()

	r := registry.New()
	pid := chat.NewProvisionalID()
	if _, err := r.CreateOptimistic(pid, "parley-lite", time.Now()); err != nil {
		t.Fatalf("CreateOptimistic: %v", err)
	}
	// A full list refresh already delivered the durable entry.
	r.InsertConfirmed(durable("cs_new555666777", "from refresh"))

	r.Reconcile(pid, durable("cs_new555666777", "from create"))

	if _, ok := r.Get(pid); ok {
		t.Error("provisional entry survived")
	}
	count := 0
	for _, s := range r.List() {
		if s.ID == "cs_new555666777" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("durable id appears %d times, want exactly 1", count)
	}
}

func TestRemoveOptimistic(t *testing.T) {
	t.Parallel()

	r := registry.New()
	pid := chat.NewProvisionalID()
	if _, err := r.CreateOptimistic(pid, "parley-lite", time.Now()); err != nil {
		t.Fatalf("CreateOptimistic: %v", err)
	}

	if !r.RemoveOptimistic(pid) {
		t.Fatal("RemoveOptimistic found nothing")
	}
	if r.Len() != 0 {
		t.Error("entry survived removal")
	}
	if r.RemoveOptimistic(pid) {
		t.Error("second removal reported success")
	}
}

func TestReplaceAllKeepsPendingProvisionals(t *testing.T) {
	t.Parallel()

	r := registry.New()
	pid := chat.NewProvisionalID()
	if _, err := r.CreateOptimistic(pid, "parley-lite", time.Now()); err != nil {
		t.Fatalf("CreateOptimistic: %v", err)
	}
	r.InsertConfirmed(durable("cs_stale11122233", "will vanish"))

	r.ReplaceAll([]chat.Session{
		durable("cs_aaa111222333", "a"),
		durable("cs_bbb222333444", "b"),
	})

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("list length = %d, want 3", len(list))
	}
	if list[0].ID != pid {
		t.Error("provisional entry lost by ReplaceAll")
	}
	if _, ok := r.Get("cs_stale11122233"); ok {
		t.Error("entry absent from the server list survived ReplaceAll")
	}
}

func TestListPinnedFirst(t *testing.T) {
	t.Parallel()

	r := registry.New()
	r.InsertConfirmed(durable("cs_ccc333444555", "c"))
	r.InsertConfirmed(durable("cs_bbb222333444", "b"))
	r.InsertConfirmed(durable("cs_aaa111222333", "a"))
	// order: a, b, c

	if !r.SetPinned("cs_ccc333444555", true) {
		t.Fatal("SetPinned failed")
	}

	list := r.List()
	want := []string{"cs_ccc333444555", "cs_aaa111222333", "cs_bbb222333444"}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("list order %v, want %v", ids(list), want)
		}
	}
}

func TestTouchMessageMaintainsTimestamps(t *testing.T) {
	t.Parallel()

	r := registry.New()
	r.InsertConfirmed(durable("cs_aaa111222333", "a"))

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)
	r.TouchMessage("cs_aaa111222333", first)
	r.TouchMessage("cs_aaa111222333", second)

	s, _ := r.Get("cs_aaa111222333")
	if !s.FirstMessageAt.Equal(first) {
		t.Errorf("FirstMessageAt = %v, want %v", s.FirstMessageAt, first)
	}
	if !s.LastMessageAt.Equal(second) {
		t.Errorf("LastMessageAt = %v, want %v", s.LastMessageAt, second)
	}
	if s.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", s.MessageCount)
	}
}

func TestRenameAndLifecycle(t *testing.T) {
	t.Parallel()

	r := registry.New()
	r.InsertConfirmed(durable("cs_aaa111222333", "a"))

	if !r.Rename("cs_aaa111222333", "renamed") {
		t.Fatal("Rename failed")
	}
	if !r.SetLifecycle("cs_aaa111222333", chat.LifecycleNotFound) {
		t.Fatal("SetLifecycle failed")
	}

	s, _ := r.Get("cs_aaa111222333")
	if s.Title != "renamed" || s.Lifecycle != chat.LifecycleNotFound {
		t.Errorf("session = %+v", s)
	}

	if r.Rename("cs_missing000000", "x") {
		t.Error("Rename on unknown id reported success")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	r := registry.New()
	s := durable("cs_aaa111222333", "a")
	s.ToolsEnabled = map[string]bool{chat.ToolWebSearch: true}
	r.InsertConfirmed(s)

	got, _ := r.Get("cs_aaa111222333")
	got.Title = "mutated"
	got.ToolsEnabled[chat.ToolWebSearch] = false

	again, _ := r.Get("cs_aaa111222333")
	if again.Title != "a" || !again.ToolsEnabled[chat.ToolWebSearch] {
		t.Error("Get leaked internal state")
	}
}

func ids(list []chat.Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}
