package chat

// EventKind discriminates the payload of a StreamEvent.
type EventKind string

// Stream event kinds, in the order a well-formed stream emits them: exactly
// one meta, zero or more chunks, then a single terminal done or error.
const (
	EventMeta  EventKind = "meta"
	EventChunk EventKind = "chunk"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Terminal reports whether k ends a stream.
func (k EventKind) Terminal() bool {
	return k == EventDone || k == EventError
}

// StreamEvent is one frame of a completion stream. Exactly one payload
// pointer is set, matching Kind.
type StreamEvent struct {
	Kind  EventKind     `json:"kind"`
	Meta  *MetaPayload  `json:"meta,omitempty"`
	Chunk *ChunkPayload `json:"chunk,omitempty"`
	Done  *DonePayload  `json:"done,omitempty"`
	Err   *ErrorPayload `json:"error,omitempty"`
}

// MetaPayload announces the authoritative ids for the exchange. SessionID is
// always set; for requests that created the session it is the fresh durable
// id the client must adopt in place of its provisional one.
type MetaPayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
}

// ChunkPayload carries one increment of assistant text.
type ChunkPayload struct {
	Text string `json:"text"`
}

// DonePayload finalizes the assistant message.
type DonePayload struct {
	MessageID  string `json:"message_id"`
	Model      string `json:"model"`
	TokenCount int    `json:"token_count"`
}

// ErrorPayload terminates the stream with a backend-reported failure.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetaEvent builds a meta frame.
func MetaEvent(sessionID, messageID string) StreamEvent {
	return StreamEvent{Kind: EventMeta, Meta: &MetaPayload{SessionID: sessionID, MessageID: messageID}}
}

// ChunkEvent builds a chunk frame.
func ChunkEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventChunk, Chunk: &ChunkPayload{Text: text}}
}

// DoneEvent builds a terminal done frame.
func DoneEvent(messageID, model string, tokens int) StreamEvent {
	return StreamEvent{Kind: EventDone, Done: &DonePayload{MessageID: messageID, Model: model, TokenCount: tokens}}
}

// ErrorEvent builds a terminal error frame.
func ErrorEvent(code, message string) StreamEvent {
	return StreamEvent{Kind: EventError, Err: &ErrorPayload{Code: code, Message: message}}
}
