package hydrate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parley/pkg/chat"
	"parley/pkg/hydrate"
)

// fakeHistory counts fetches and can block until released, to hold a load
// in flight while the test pokes at the cache.
type fakeHistory struct {
	mu      sync.Mutex
	fetches int
	block   chan struct{} // if non-nil, Fetch waits on it
	msgs    []chat.Message
	total   int
	err     error
}

func (f *fakeHistory) Fetch(ctx context.Context, sessionID string, limit, offset int) ([]chat.Message, int, error) {
	f.mu.Lock()
	f.fetches++
	block := f.block
	msgs, total, err := f.msgs, f.total, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	return msgs, total, err
}

func (f *fakeHistory) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func threeMessages() []chat.Message {
	return []chat.Message{
		{ID: "msg_1", Role: chat.RoleUser, Content: "hi", Status: chat.StatusDelivered},
		{ID: "msg_2", Role: chat.RoleAssistant, Content: "hello", Status: chat.StatusDelivered},
		{ID: "msg_3", Role: chat.RoleUser, Content: "again", Status: chat.StatusDelivered},
	}
}

func TestLoadAppliesHistory(t *testing.T) {
	t.Parallel()

	h := &fakeHistory{msgs: threeMessages(), total: 3}
	cache := hydrate.New(h, hydrate.Config{})

	var gotMsgs []chat.Message
	var gotTotal int
	err := cache.Load(context.Background(), "cs_abc123def456", func(msgs []chat.Message, total int) bool {
		gotMsgs, gotTotal = msgs, total
		return true
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(gotMsgs) != 3 || gotTotal != 3 {
		t.Errorf("apply saw %d messages, total %d", len(gotMsgs), gotTotal)
	}
	if !cache.Hydrated("cs_abc123def456") {
		t.Error("session not marked hydrated after a successful load")
	}
	if cache.Hydrating("cs_abc123def456") {
		t.Error("hydrating flag still set after completion")
	}
}

func TestLoadNoOpWhenHydrated(t *testing.T) {
	t.Parallel()

	h := &fakeHistory{msgs: threeMessages(), total: 3}
	cache := hydrate.New(h, hydrate.Config{})
	ctx := context.Background()

	apply := func([]chat.Message, int) bool { return true }
	if err := cache.Load(ctx, "cs_abc123def456", apply); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if err := cache.Load(ctx, "cs_abc123def456", apply); err != nil {
		t.Fatalf("second Load: %v", err)
	}

	if got := h.fetchCount(); got != 1 {
		t.Errorf("hydrated session refetched: %d fetches", got)
	}
}

func TestConcurrentLoadsCollapse(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := &fakeHistory{msgs: threeMessages(), total: 3, block: release}
	cache := hydrate.New(h, hydrate.Config{})
	ctx := context.Background()

	applied := make(chan struct{}, 2)
	apply := func([]chat.Message, int) bool {
		applied <- struct{}{}
		return true
	}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cache.Load(ctx, "cs_abc123def456", apply)
		}()
	}

	// Give both goroutines time to hit the flag check, then let the single
	// winning fetch finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := h.fetchCount(); got != 1 {
		t.Errorf("concurrent loads issued %d fetches, want 1", got)
	}
	if got := len(applied); got != 1 {
		t.Errorf("apply ran %d times, want 1", got)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	h := &fakeHistory{msgs: threeMessages(), total: 3}
	cache := hydrate.New(h, hydrate.Config{})
	ctx := context.Background()
	apply := func([]chat.Message, int) bool { return true }

	if err := cache.Load(ctx, "cs_abc123def456", apply); err != nil {
		t.Fatalf("first Load: %v", err)
	}

	cache.Invalidate("cs_abc123def456")
	if cache.Hydrated("cs_abc123def456") || cache.Hydrating("cs_abc123def456") {
		t.Fatal("flags survived Invalidate")
	}

	if err := cache.Load(ctx, "cs_abc123def456", apply); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := h.fetchCount(); got != 2 {
		t.Errorf("reload after Invalidate issued %d total fetches, want 2", got)
	}
}

func TestInvalidateMidFlightDiscardsResult(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := &fakeHistory{msgs: threeMessages(), total: 3, block: release}
	cache := hydrate.New(h, hydrate.Config{})

	done := make(chan error, 1)
	var appliedMu sync.Mutex
	appliedCount := 0
	go func() {
		done <- cache.Load(context.Background(), "cs_abc123def456", func([]chat.Message, int) bool {
			appliedMu.Lock()
			appliedCount++
			appliedMu.Unlock()
			return true
		})
	}()

	// Wait until the load is in flight, then invalidate underneath it.
	deadline := time.After(2 * time.Second)
	for !cache.Hydrating("cs_abc123def456") {
		select {
		case <-deadline:
			t.Fatal("load never started")
		case <-time.After(time.Millisecond):
		}
	}
	cache.Invalidate("cs_abc123def456")
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Load: %v", err)
	}
	appliedMu.Lock()
	defer appliedMu.Unlock()
	if appliedCount != 0 {
		t.Error("result applied despite mid-flight invalidation")
	}
	if cache.Hydrated("cs_abc123def456") {
		t.Error("session marked hydrated despite mid-flight invalidation")
	}
}

func TestRejectedApplyLeavesUnhydrated(t *testing.T) {
	t.Parallel()

	h := &fakeHistory{msgs: threeMessages(), total: 3}
	cache := hydrate.New(h, hydrate.Config{})
	ctx := context.Background()

	err := cache.Load(ctx, "cs_abc123def456", func([]chat.Message, int) bool { return false })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cache.Hydrated("cs_abc123def456") {
		t.Fatal("rejected apply still marked the session hydrated")
	}

	// The next Load must actually fetch.
	if err := cache.Load(ctx, "cs_abc123def456", func([]chat.Message, int) bool { return true }); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := h.fetchCount(); got != 2 {
		t.Errorf("got %d fetches, want 2", got)
	}
}

func TestFetchFailureClearsInFlight(t *testing.T) {
	t.Parallel()

	h := &fakeHistory{err: errors.New("boom")}
	cache := hydrate.New(h, hydrate.Config{})
	ctx := context.Background()

	err := cache.Load(ctx, "cs_abc123def456", func([]chat.Message, int) bool {
		t.Error("apply ran for a failed fetch")
		return true
	})
	if err == nil {
		t.Fatal("Load swallowed the fetch error")
	}
	if cache.Hydrated("cs_abc123def456") || cache.Hydrating("cs_abc123def456") {
		t.Error("flags left set after a failed fetch")
	}

	// Errors are not auto-retried; only an explicit new Load fetches again.
	h.mu.Lock()
	h.err = nil
	h.msgs, h.total = threeMessages(), 3
	h.mu.Unlock()

	if err := cache.Load(ctx, "cs_abc123def456", func([]chat.Message, int) bool { return true }); err != nil {
		t.Fatalf("retry Load: %v", err)
	}
	if !cache.Hydrated("cs_abc123def456") {
		t.Error("explicit retry did not hydrate")
	}
}

func TestNotFoundPropagates(t *testing.T) {
	t.Parallel()

	h := &fakeHistory{err: &chat.NotFoundError{SessionID: "cs_gone12345678"}}
	cache := hydrate.New(h, hydrate.Config{})

	err := cache.Load(context.Background(), "cs_gone12345678", func([]chat.Message, int) bool { return true })
	if !chat.IsNotFound(err) {
		t.Fatalf("want a NotFoundError, got %v", err)
	}
}
