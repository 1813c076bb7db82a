// Package session implements the parley orchestrator, the coordination
// engine that composes the draft manager, hydration cache, tool-state
// manager, session registry, attachment store, and streaming pipeline into
// one conversation lifecycle: draft, optimistic creation, reconciliation,
// history hydration, and streamed message exchange.
//
// The orchestrator owns the current selection, the selection epoch, the
// visible message list, and the pending-create guard. Every other state
// slice lives in exactly one leaf component; the orchestrator coordinates
// them but never reaches into their internals.
package session

import (
	"context"
	"io"
	"sync"
	"time"

	"parley/pkg/attach"
	"parley/pkg/chat"
	"parley/pkg/draft"
	"parley/pkg/hydrate"
	"parley/pkg/registry"
	"parley/pkg/stream"
	"parley/pkg/toolstate"
)

// DefaultModel is the completion model used when none is configured.
const DefaultModel = "parley-lite"

// --- Interfaces for testability ---

// Sessions is the session-service surface the orchestrator consumes.
// Production impl is remote.Client.
type Sessions interface {
	// CreateSession mints a durable conversation. The idempotency key makes
	// a retried request converge on one conversation server-side.
	CreateSession(ctx context.Context, model string, tools map[string]bool, idempotencyKey string) (chat.Session, error)
	ListSessions(ctx context.Context) ([]chat.Session, error)
	UpdateSession(ctx context.Context, id string, upd SessionUpdate) error
	DeleteSession(ctx context.Context, id string) error
}

// SessionUpdate is a partial metadata write; nil fields are left untouched.
type SessionUpdate struct {
	Title  *string
	Pinned *bool
	Tools  map[string]bool
}

// Titles generates a conversation title from its first user message.
// Best-effort: failures are logged and ignored. Production impl is
// remote.Client.
type Titles interface {
	GenerateTitle(ctx context.Context, firstUserMessage string) (string, error)
}

// EventLog records lifecycle events for observability. Production impl is
// store.Store.
type EventLog interface {
	AppendEvent(ctx context.Context, kind, sessionID, detail string) error
}

// SessionCache mirrors confirmed conversation metadata locally so the next
// startup can seed the list without a server round-trip. Optional: when the
// configured EventLog also implements it, the orchestrator writes through on
// reconcile and metadata changes. store.Store implements it.
type SessionCache interface {
	UpsertSession(ctx context.Context, sess chat.Session) error
	DeleteSession(ctx context.Context, id string) error
}

// --- Config ---

// Config holds orchestrator configuration and collaborators.
type Config struct {
	Sessions      Sessions
	History       hydrate.History
	Completer     stream.Completer
	ToolPersister toolstate.Persister
	Uploader      attach.Uploader
	Titles        Titles   // optional
	Log           EventLog // optional

	Model           string          // default completion model
	DefaultTools    map[string]bool // configured overlay on the base tool defaults
	HistoryPageSize int             // initial history fetch limit
	DraftExpiry     time.Duration   // empty-draft auto-discard delay
	NoticeCap       int             // bounded notice buffer size (default 32)
	TitleTimeout    time.Duration   // budget for fire-and-forget title generation (default 10s)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.NoticeCap == 0 {
		out.NoticeCap = 32
	}
	if out.TitleTimeout == 0 {
		out.TitleTimeout = 10 * time.Second
	}
	return out
}

// --- Orchestrator ---

// Orchestrator is the single writer of the selection, the epoch, the visible
// message list, and the pending-create guard. Safe for concurrent use; every
// blocking operation takes a context and runs without the orchestrator lock
// held.
type Orchestrator struct {
	cfg Config

	drafts      *draft.Manager
	cache       *hydrate.Cache
	tools       *toolstate.Manager
	registry    *registry.Registry
	pipeline    *stream.Pipeline
	attachments *attach.Store

	mu            sync.Mutex
	selected      string // current session id; "" in draft/unset states
	phantom       bool   // selected id came from navigation, never confirmed by the backend
	epoch         uint64
	messages      []chat.Message
	pendingCreate string // provisional id with a create in flight
	pendingKey    string // its idempotency key
	chatNotFound  bool

	// Per-send resolution state; valid only while the single-flight send
	// runs.
	sendSession     string    // session the in-flight send resolved to
	sendProvisional string    // provisional id in use when the send started
	sendOrigin      string    // selection when the send started
	sendToolsKey    string    // tool-state key the send's request drew from
	sendUserAt      time.Time // timestamp of the send's user message

	notices  *noticeRing
	notifyCh chan struct{}

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates an Orchestrator in the Unset state. Nothing is selected and no
// draft is open until the first navigation event.
func New(cfg Config) *Orchestrator {
	resolved := cfg.withDefaults()
	o := &Orchestrator{
		cfg:      resolved,
		tools:    toolstate.NewWithDefaults(resolved.ToolPersister, resolved.DefaultTools),
		registry: registry.New(),
		cache:    hydrate.New(resolved.History, hydrate.Config{PageSize: resolved.HistoryPageSize}),
		notices:  newNoticeRing(resolved.NoticeCap),
		notifyCh: make(chan struct{}, 1),
		nowFunc:  time.Now,
	}
	o.drafts = draft.New(draft.Config{
		Expiry:   resolved.DraftExpiry,
		OnExpire: o.onDraftExpired,
	})
	o.pipeline = stream.New(resolved.Completer, &pipelineSink{o: o})
	o.attachments = attach.NewStore(resolved.Uploader)
	return o
}

// --- Exposed state ---

// Snapshot is a point-in-time view of orchestrator state for consumers.
type Snapshot struct {
	Selected      *chat.Session // nil when nothing is selected
	Messages      []chat.Message
	Epoch         uint64
	Draft         draft.Snapshot
	IsSending     bool
	IsHydrating   bool
	ChatNotFound  bool
	CreatePending bool
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	selected := o.selected
	snap := Snapshot{
		Epoch:         o.epoch,
		ChatNotFound:  o.chatNotFound,
		CreatePending: o.pendingCreate != "",
		Messages:      make([]chat.Message, 0, len(o.messages)),
	}
	for _, m := range o.messages {
		snap.Messages = append(snap.Messages, m.Clone())
	}
	o.mu.Unlock()

	if selected != "" {
		if s, ok := o.registry.Get(selected); ok {
			snap.Selected = &s
		}
	}
	snap.Draft = o.drafts.Snapshot()
	snap.IsSending = o.pipeline.Sending()
	if selected != "" {
		snap.IsHydrating = o.cache.Hydrating(selected)
	}
	return snap
}

// Sessions lists the known conversations, pinned first.
func (o *Orchestrator) Sessions() []chat.Session {
	return o.registry.List()
}

// Epoch returns the selection epoch. It increases on every selection event,
// including re-selecting the current session, so consumers can reset local
// sub-state on every entry.
func (o *Orchestrator) Epoch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}

// Sending reports whether a send is in flight.
func (o *Orchestrator) Sending() bool {
	return o.pipeline.Sending()
}

// Updates returns a coalescing signal channel: one pending tick means state
// changed since the consumer last looked.
func (o *Orchestrator) Updates() <-chan struct{} {
	return o.notifyCh
}

// Notices drains buffered transient notifications, oldest first.
func (o *Orchestrator) Notices() []Notice {
	return o.notices.Drain()
}

// --- Attachments ---

// StageAttachment uploads a file into the bucket for the current surface:
// the selected session's bucket, or the draft bucket when nothing is
// selected.
func (o *Orchestrator) StageAttachment(ctx context.Context, name string, r io.Reader) (chat.Attachment, error) {
	att, err := o.attachments.Stage(ctx, o.CurrentBucket(), name, r)
	if err != nil {
		o.notices.Add(o.nowFunc(), NoticeWarn, "attachment failed: "+name)
		o.notify()
		return chat.Attachment{}, err
	}
	o.notify()
	return att, nil
}

// Attachments returns the files ready in the current bucket.
func (o *Orchestrator) Attachments() []chat.Attachment {
	return o.attachments.Ready(o.CurrentBucket())
}

// AttachmentStore exposes the underlying store for staging watchers.
func (o *Orchestrator) AttachmentStore() *attach.Store {
	return o.attachments
}

// CurrentBucket names the attachment bucket for the current surface.
func (o *Orchestrator) CurrentBucket() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selected != "" {
		return o.selected
	}
	return attach.DraftBucket
}

// --- Internals ---

// notify coalesces change signals: a full channel already means "look
// again".
func (o *Orchestrator) notify() {
	select {
	case o.notifyCh <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) logEvent(ctx context.Context, kind, sessionID, detail string) {
	if o.cfg.Log == nil {
		return
	}
	_ = o.cfg.Log.AppendEvent(ctx, kind, sessionID, detail)
}

// cacheSession writes one conversation's current registry state through to
// the local cache. Provisional entries never land there.
func (o *Orchestrator) cacheSession(ctx context.Context, id string) {
	sc, ok := o.cfg.Log.(SessionCache)
	if !ok || !chat.IsDurableID(id) {
		return
	}
	if sess, found := o.registry.Get(id); found {
		_ = sc.UpsertSession(ctx, sess)
	}
}

func (o *Orchestrator) dropCachedSession(ctx context.Context, id string) {
	sc, ok := o.cfg.Log.(SessionCache)
	if !ok || !chat.IsDurableID(id) {
		return
	}
	_ = sc.DeleteSession(ctx, id)
}

func (o *Orchestrator) model() string {
	if s := o.drafts.Snapshot(); s.Active && s.Model != "" {
		return s.Model
	}
	return o.cfg.Model
}
