package attach

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"parley/pkg/chat"
)

const debounce = 100 * time.Millisecond

// Watcher stages files dropped into a directory. Each new regular file is
// uploaded once into whatever bucket the callback names at that moment, so
// files landing mid-draft follow the draft into its eventual session.
type Watcher struct {
	dir    string
	store  *Store
	bucket func() string
	notify func(att chat.Attachment, err error)

	fsw *fsnotify.Watcher

	mu   sync.Mutex
	seen map[string]time.Time // name -> mod time already staged
}

// NewWatcher validates the staging directory and registers it with fsnotify.
// Callers that get an error fall back to explicit attach commands.
func NewWatcher(dir string, store *Store, bucket func() string, notify func(att chat.Attachment, err error)) (*Watcher, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		dir:    dir,
		store:  store,
		bucket: bucket,
		notify: notify,
		fsw:    fsw,
		seen:   make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is cancelled, staging new files after a debounce
// window so half-written files settle first.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	// Pick up anything already sitting in the directory.
	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			resetTimer(timer, debounce)

		case <-timer.C:
			w.scan(ctx)

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// scan stages every regular file not staged before. Dotfiles are skipped so
// editors' swap files do not end up attached to a conversation.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		w.mu.Lock()
		staged, ok := w.seen[entry.Name()]
		if ok && !info.ModTime().After(staged) {
			w.mu.Unlock()
			continue
		}
		w.seen[entry.Name()] = info.ModTime()
		w.mu.Unlock()

		att, err := w.store.StageFile(ctx, w.bucket(), filepath.Join(w.dir, entry.Name()))
		if w.notify != nil {
			w.notify(att, err)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
