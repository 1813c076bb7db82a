// Package attach tracks file attachments that finished uploading, grouped by
// bucket: the draft bucket, a provisional session id, or a durable session
// id. Which bucket a file lands in depends on timing, so send cleanup always
// clears all three.
package attach

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"parley/pkg/chat"
)

// DraftBucket holds attachments staged before any session id exists.
const DraftBucket = "draft"

// Uploader pushes one file to the attachment service. Production impl is
// remote.Client. Each upload fails independently: one bad file never blocks
// the rest.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (chat.Attachment, error)
}

// Store is the single writer of ready-attachment state. Safe for concurrent
// use.
type Store struct {
	uploader Uploader

	mu      sync.Mutex
	buckets map[string][]chat.Attachment
}

// NewStore returns an empty Store uploading through u.
func NewStore(u Uploader) *Store {
	return &Store{
		uploader: u,
		buckets:  make(map[string][]chat.Attachment),
	}
}

// Stage uploads one file and, on success, records it as ready under bucket.
func (s *Store) Stage(ctx context.Context, bucket, name string, r io.Reader) (chat.Attachment, error) {
	att, err := s.uploader.Upload(ctx, name, r)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("upload %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucket] = append(s.buckets[bucket], att)
	return att, nil
}

// StageFile uploads a file from disk into bucket.
func (s *Store) StageFile(ctx context.Context, bucket, path string) (chat.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return s.Stage(ctx, bucket, filepath.Base(path), f)
}

// Ready returns copies of the attachments ready in bucket.
func (s *Store) Ready(bucket string) []chat.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Attachment(nil), s.buckets[bucket]...)
}

// ReadyIDs returns the ids of the attachments ready in bucket, in staging
// order, for building an outgoing request.
func (s *Store) ReadyIDs(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	atts := s.buckets[bucket]
	ids := make([]string, len(atts))
	for i, att := range atts {
		ids[i] = att.ID
	}
	return ids
}

// Count reports how many attachments are ready in bucket.
func (s *Store) Count(bucket string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets[bucket])
}

// Clear empties every named bucket. Send completion clears the resolved
// session id, any provisional id that was in use, and the draft bucket in
// one call.
func (s *Store) Clear(buckets ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range buckets {
		delete(s.buckets, b)
	}
}

// Rebucket moves everything staged under from to the to bucket, appending
// after anything already there. Used when a provisional id is reconciled to
// its durable id.
func (s *Store) Rebucket(from, to string) {
	if from == to {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	moved, ok := s.buckets[from]
	if !ok {
		return
	}
	s.buckets[to] = append(s.buckets[to], moved...)
	delete(s.buckets, from)
}
