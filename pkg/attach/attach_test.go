package attach_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"parley/pkg/attach"
	"parley/pkg/chat"
)

// fakeUploader assigns sequential ids and can fail specific file names.
type fakeUploader struct {
	mu    sync.Mutex
	next  int
	fails map[string]bool
}

func (f *fakeUploader) Upload(ctx context.Context, name string, r io.Reader) (chat.Attachment, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return chat.Attachment{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[name] {
		return chat.Attachment{}, errors.New("storage rejected " + name)
	}
	f.next++
	return chat.Attachment{
		ID:         fmt.Sprintf("att_%03d", f.next),
		Name:       name,
		UploadedAt: time.Now(),
	}, nil
}

func TestStageRecordsReadyAttachment(t *testing.T) {
	t.Parallel()

	s := attach.NewStore(&fakeUploader{})
	att, err := s.Stage(context.Background(), attach.DraftBucket, "notes.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	ready := s.Ready(attach.DraftBucket)
	if len(ready) != 1 || ready[0].ID != att.ID || ready[0].Name != "notes.txt" {
		t.Errorf("ready = %+v", ready)
	}
}

func TestStageFailuresAreIndependent(t *testing.T) {
	t.Parallel()

	up := &fakeUploader{fails: map[string]bool{"bad.bin": true}}
	s := attach.NewStore(up)
	ctx := context.Background()

	if _, err := s.Stage(ctx, "cs_abc123def456", "good.txt", strings.NewReader("a")); err != nil {
		t.Fatalf("good upload failed: %v", err)
	}
	if _, err := s.Stage(ctx, "cs_abc123def456", "bad.bin", strings.NewReader("b")); err == nil {
		t.Fatal("bad upload did not fail")
	}
	if _, err := s.Stage(ctx, "cs_abc123def456", "also-good.md", strings.NewReader("c")); err != nil {
		t.Fatalf("upload after a failure failed: %v", err)
	}

	if got := s.Count("cs_abc123def456"); got != 2 {
		t.Errorf("ready count = %d, want 2 (failed file must not be recorded)", got)
	}
}

func TestClearEmptiesAllNamedBuckets(t *testing.T) {
	t.Parallel()

	s := attach.NewStore(&fakeUploader{})
	ctx := context.Background()
	provisional := chat.NewProvisionalID()

	for bucket, name := range map[string]string{
		attach.DraftBucket: "a.txt",
		provisional:        "b.txt",
		"cs_abc123def456":  "c.txt",
	} {
		if _, err := s.Stage(ctx, bucket, name, strings.NewReader("x")); err != nil {
			t.Fatalf("Stage %s: %v", name, err)
		}
	}

	s.Clear("cs_abc123def456", provisional, attach.DraftBucket)

	for _, bucket := range []string{attach.DraftBucket, provisional, "cs_abc123def456"} {
		if got := s.Count(bucket); got != 0 {
			t.Errorf("bucket %s still has %d attachments", bucket, got)
		}
	}
}

func TestRebucketMovesAttachments(t *testing.T) {
	t.Parallel()

	s := attach.NewStore(&fakeUploader{})
	ctx := context.Background()
	provisional := chat.NewProvisionalID()

	if _, err := s.Stage(ctx, provisional, "early.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := s.Stage(ctx, "cs_abc123def456", "late.txt", strings.NewReader("y")); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	s.Rebucket(provisional, "cs_abc123def456")

	if got := s.Count(provisional); got != 0 {
		t.Errorf("source bucket still has %d attachments", got)
	}
	ids := s.ReadyIDs("cs_abc123def456")
	if len(ids) != 2 {
		t.Fatalf("destination has %d attachments, want 2", len(ids))
	}

	// Rebucket onto itself must not duplicate or drop.
	s.Rebucket("cs_abc123def456", "cs_abc123def456")
	if got := s.Count("cs_abc123def456"); got != 2 {
		t.Errorf("self rebucket changed count to %d", got)
	}
}

func TestReadyReturnsCopies(t *testing.T) {
	t.Parallel()

	s := attach.NewStore(&fakeUploader{})
	if _, err := s.Stage(context.Background(), attach.DraftBucket, "a.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	ready := s.Ready(attach.DraftBucket)
	ready[0].Name = "mutated"

	if again := s.Ready(attach.DraftBucket); again[0].Name != "a.txt" {
		t.Error("Ready leaked internal state")
	}
}

func TestWatcherStagesDroppedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := attach.NewStore(&fakeUploader{})

	staged := make(chan chat.Attachment, 4)
	w, err := attach.NewWatcher(dir, s,
		func() string { return attach.DraftBucket },
		func(att chat.Attachment, err error) {
			if err == nil {
				staged <- att
			}
		})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("pdf bytes"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case att := <-staged:
		if att.Name != "report.pdf" {
			t.Errorf("staged %q, want report.pdf", att.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dropped file never staged")
	}

	if got := s.Count(attach.DraftBucket); got != 1 {
		t.Errorf("draft bucket count = %d, want 1", got)
	}
}

func TestWatcherSkipsDotfilesAndStagesExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".swap"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	s := attach.NewStore(&fakeUploader{})
	staged := make(chan chat.Attachment, 4)
	w, err := attach.NewWatcher(dir, s,
		func() string { return attach.DraftBucket },
		func(att chat.Attachment, err error) {
			if err == nil {
				staged <- att
			}
		})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case att := <-staged:
		if att.Name != "existing.txt" {
			t.Errorf("staged %q, want existing.txt", att.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pre-existing file never staged")
	}

	// Give the watcher a moment to (wrongly) pick up the dotfile.
	time.Sleep(200 * time.Millisecond)
	if got := s.Count(attach.DraftBucket); got != 1 {
		t.Errorf("bucket count = %d, want 1 (dotfile must be skipped)", got)
	}
}

func TestNewWatcherRejectsMissingDir(t *testing.T) {
	t.Parallel()

	s := attach.NewStore(&fakeUploader{})
	if _, err := attach.NewWatcher(filepath.Join(t.TempDir(), "absent"), s, func() string { return attach.DraftBucket }, nil); err == nil {
		t.Fatal("missing directory accepted")
	}
}
