// Package chat defines the domain model shared by the parley session
// orchestrator and its collaborators: conversation sessions, messages,
// completion stream events, and the typed errors used for discrimination
// across component boundaries.
package chat

import "time"

// Role identifies the author of a message.
type Role string

// Message role constants.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus is the delivery state of a single message.
type MessageStatus string

// Message status constants. Content is mutable only while streaming;
// delivered and errored messages are final.
const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusDelivered MessageStatus = "delivered"
	StatusError     MessageStatus = "error"
)

// Terminal reports whether s is a final status (no further content may be
// appended).
func (s MessageStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusError
}

// Lifecycle is the orchestrator-owned state of a session.
type Lifecycle string

// Session lifecycle constants.
const (
	LifecycleDraft         Lifecycle = "draft"          // no durable nor provisional id yet
	LifecyclePendingCreate Lifecycle = "pending_create" // optimistic entry, create in flight
	LifecycleActive        Lifecycle = "active"         // durable id confirmed by the backend
	LifecycleNotFound      Lifecycle = "not_found"      // backend reported the id unknown
)

// Session is the metadata record for one conversation. The id is either
// durable (server-assigned, "cs_" prefix) or provisional ("temp-" prefix,
// client-generated, see NewProvisionalID).
type Session struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Model          string          `json:"model"`
	Pinned         bool            `json:"pinned"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	FirstMessageAt time.Time       `json:"first_message_at,omitzero"`
	LastMessageAt  time.Time       `json:"last_message_at,omitzero"`
	MessageCount   int             `json:"message_count"`
	ToolsEnabled   map[string]bool `json:"tools_enabled,omitempty"`
	Lifecycle      Lifecycle       `json:"-"` // client-side only, never on the wire
}

// Provisional reports whether the session still carries a client-generated id.
func (s Session) Provisional() bool {
	return IsProvisionalID(s.ID)
}

// Clone returns a deep copy safe to hand across component boundaries.
func (s Session) Clone() Session {
	out := s
	out.ToolsEnabled = CloneTools(s.ToolsEnabled)
	return out
}

// Message is one entry in a conversation transcript. Model, TokenCount and
// LatencyMS are populated only once the message reaches StatusDelivered.
type Message struct {
	ID            string        `json:"id"`
	Role          Role          `json:"role"`
	Content       string        `json:"content"`
	Status        MessageStatus `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	Model         string        `json:"model,omitempty"`
	TokenCount    int           `json:"token_count,omitempty"`
	LatencyMS     int64         `json:"latency_ms,omitempty"`
	AttachmentIDs []string      `json:"attachment_ids,omitempty"`
	Artifact      *Artifact     `json:"artifact,omitempty"`
}

// Clone returns a deep copy safe to hand across component boundaries.
func (m Message) Clone() Message {
	out := m
	out.AttachmentIDs = append([]string(nil), m.AttachmentIDs...)
	if m.Artifact != nil {
		artifact := *m.Artifact
		out.Artifact = &artifact
	}
	return out
}

// Artifact is an optional structured side-payload attached to a delivered
// message after the fact (e.g. a generated report reference).
type Artifact struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Attachment is a file reference known to the attachment service. Only
// attachments that finished uploading are tracked by the attachment store.
type Attachment struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// CompletionRequest is the payload for one outgoing message. An empty
// SessionID tells the backend to create a new conversation and report its id
// in the meta stream event; IdempotencyKey makes that implicit create
// converge with any explicit create carrying the same key.
type CompletionRequest struct {
	SessionID      string          `json:"session_id,omitempty"`
	Text           string          `json:"text"`
	Model          string          `json:"model"`
	AttachmentIDs  []string        `json:"attachment_ids,omitempty"`
	Tools          map[string]bool `json:"tools,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// SendFailureReply is the assistant-authored text shown when a send fails
// terminally (both the streaming and the single-shot path exhausted).
const SendFailureReply = "Sorry, something went wrong while generating a reply. Please try sending your message again."
