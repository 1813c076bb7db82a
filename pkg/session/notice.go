package session

import (
	"sync"
	"time"
)

// Notice levels.
const (
	NoticeInfo  = "info"
	NoticeWarn  = "warn"
	NoticeError = "error"
)

// Notice is a transient, non-blocking notification for the UI: creation
// failures, rename failures, tool bounces. Never used for send failures,
// which surface as an error message bubble instead.
type Notice struct {
	At    time.Time
	Level string
	Text  string
}

// noticeRing is a bounded FIFO of notices. When full, the oldest notice is
// evicted to make room.
type noticeRing struct {
	mu      sync.Mutex
	notices []Notice
	cap     int
}

func newNoticeRing(capacity int) *noticeRing {
	return &noticeRing{
		notices: make([]Notice, 0, capacity),
		cap:     capacity,
	}
}

func (r *noticeRing) Add(at time.Time, level, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := Notice{At: at, Level: level, Text: text}
	if len(r.notices) >= r.cap {
		copy(r.notices, r.notices[1:])
		r.notices[len(r.notices)-1] = n
	} else {
		r.notices = append(r.notices, n)
	}
}

// Drain returns all buffered notices and clears the ring.
func (r *noticeRing) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.notices) == 0 {
		return nil
	}
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	r.notices = r.notices[:0]
	return out
}

func (r *noticeRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}
