// Package stream runs the outgoing-message pipeline: it consumes the
// incremental completion stream for a single send, accumulates partial
// content into a placeholder assistant message, and finalizes it into a
// delivered message, falling back to the single-response transport when the
// incremental one fails at the protocol level.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"parley/pkg/chat"
)

// Completer executes one completion request. Production impl is
// remote.Client.
type Completer interface {
	// SendStream opens the incremental transport. The returned channel
	// yields one meta frame, any number of chunks, then a terminal frame;
	// a channel that closes without a terminal frame is a transport
	// failure. Protocol-level open failures are chat.TransportError.
	SendStream(ctx context.Context, req chat.CompletionRequest) (<-chan chat.StreamEvent, error)

	// SendOnce executes the same logical request over the single-response
	// transport.
	SendOnce(ctx context.Context, req chat.CompletionRequest) (Reply, error)
}

// Reply is the single-response transport's result: the durable session id
// (fresh when the request created the conversation) plus the full message.
type Reply struct {
	SessionID string       `json:"session_id"`
	Message   chat.Message `json:"message"`
}

// Sink receives message mutations as the pipeline produces them. The
// orchestrator implements it; the pipeline never touches orchestrator state
// directly.
type Sink interface {
	// MessageStarted inserts the placeholder assistant message.
	MessageStarted(placeholder chat.Message)
	// MessageProgress replaces the placeholder's accumulated content while
	// it is streaming.
	MessageProgress(placeholderID, content string)
	// MessageFinished replaces the placeholder with its terminal form.
	// final.ID may differ from placeholderID when the backend confirmed a
	// durable message id.
	MessageFinished(placeholderID string, final chat.Message)
	// SessionResolved reports the authoritative session id announced by the
	// backend for this exchange.
	SessionResolved(sessionID string)
}

// Pipeline is the single-flight send executor. One Pipeline serves one
// client: at most one send may be in flight across all sessions.
type Pipeline struct {
	completer Completer
	sink      Sink

	mu      sync.Mutex
	sending bool
	cancel  context.CancelFunc

	nowFunc func() time.Time
	newID   func() string
}

// New returns an idle Pipeline.
func New(c Completer, s Sink) *Pipeline {
	return &Pipeline{
		completer: c,
		sink:      s,
		nowFunc:   time.Now,
		newID:     chat.NewMessageID,
	}
}

// Sending reports whether a send is in flight.
func (p *Pipeline) Sending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sending
}

// Stop aborts the in-flight send, if any. The placeholder keeps whatever
// content it accumulated and is finalized as delivered so nothing further
// can be appended.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send executes one outgoing message end to end and returns the terminal
// assistant message. A second Send while one is in flight fails fast with
// chat.ErrSendInFlight and has no side effects.
func (p *Pipeline) Send(ctx context.Context, req chat.CompletionRequest) (chat.Message, error) {
	p.mu.Lock()
	if p.sending {
		p.mu.Unlock()
		return chat.Message{}, chat.ErrSendInFlight
	}
	ctx, cancel := context.WithCancel(ctx)
	p.sending = true
	p.cancel = cancel
	p.mu.Unlock()

	// The lock is released on every exit path, success or not.
	defer func() {
		cancel()
		p.mu.Lock()
		p.sending = false
		p.cancel = nil
		p.mu.Unlock()
	}()

	start := p.nowFunc()
	placeholder := chat.Message{
		ID:        p.newID(),
		Role:      chat.RoleAssistant,
		Status:    chat.StatusPending,
		Timestamp: start,
	}
	p.sink.MessageStarted(placeholder.Clone())

	events, err := p.completer.SendStream(ctx, req)
	if err != nil {
		if chat.IsTransport(err) {
			return p.sendOnce(ctx, req, placeholder, "", start)
		}
		return p.fail(placeholder, start, err)
	}
	return p.consume(ctx, req, events, placeholder, start)
}

// consume drains the event stream until a terminal frame, a cancellation, or
// a transport drop.
func (p *Pipeline) consume(ctx context.Context, req chat.CompletionRequest, events <-chan chat.StreamEvent, placeholder chat.Message, start time.Time) (chat.Message, error) {
	var accum strings.Builder

	for {
		select {
		case <-ctx.Done():
			return p.stopped(placeholder, accum.String(), start)

		case ev, ok := <-events:
			if !ok {
				// Stream dropped before a terminal frame: a transport
				// failure, retried transparently over the single-response
				// path with the content accumulated so far as fallback
				// partial state.
				return p.sendOnce(ctx, req, placeholder, accum.String(), start)
			}

			switch ev.Kind {
			case chat.EventMeta:
				if ev.Meta != nil && ev.Meta.SessionID != "" {
					p.sink.SessionResolved(ev.Meta.SessionID)
				}

			case chat.EventChunk:
				if ev.Chunk == nil {
					continue
				}
				accum.WriteString(ev.Chunk.Text)
				placeholder.Status = chat.StatusStreaming
				p.sink.MessageProgress(placeholder.ID, accum.String())

			case chat.EventDone:
				final := placeholder
				final.Content = accum.String()
				final.Status = chat.StatusDelivered
				final.LatencyMS = p.nowFunc().Sub(start).Milliseconds()
				if ev.Done != nil {
					if ev.Done.MessageID != "" {
						final.ID = ev.Done.MessageID
					}
					final.Model = ev.Done.Model
					final.TokenCount = ev.Done.TokenCount
				}
				p.sink.MessageFinished(placeholder.ID, final.Clone())
				return final, nil

			case chat.EventError:
				code, msg := "unknown", "stream aborted"
				if ev.Err != nil {
					code, msg = ev.Err.Code, ev.Err.Message
				}
				return p.fail(placeholder, start, &chat.CompletionError{Code: code, Message: msg})
			}
		}
	}
}

// sendOnce is the non-incremental fallback. The user-visible result must
// match a streamed send except for the absence of live token rendering.
func (p *Pipeline) sendOnce(ctx context.Context, req chat.CompletionRequest, placeholder chat.Message, partial string, start time.Time) (chat.Message, error) {
	reply, err := p.completer.SendOnce(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return p.stopped(placeholder, partial, start)
		}
		return p.fail(placeholder, start, err)
	}

	if reply.SessionID != "" {
		p.sink.SessionResolved(reply.SessionID)
	}

	final := reply.Message
	if final.ID == "" {
		final.ID = placeholder.ID
	}
	final.Role = chat.RoleAssistant
	final.Status = chat.StatusDelivered
	if final.Timestamp.IsZero() {
		final.Timestamp = placeholder.Timestamp
	}
	final.LatencyMS = p.nowFunc().Sub(start).Milliseconds()
	p.sink.MessageFinished(placeholder.ID, final.Clone())
	return final, nil
}

// stopped finalizes an explicitly cancelled send: partial content, terminal
// status, no error surfaced.
func (p *Pipeline) stopped(placeholder chat.Message, partial string, start time.Time) (chat.Message, error) {
	final := placeholder
	final.Content = partial
	final.Status = chat.StatusDelivered
	final.LatencyMS = p.nowFunc().Sub(start).Milliseconds()
	p.sink.MessageFinished(placeholder.ID, final)
	return final, nil
}

// fail finalizes a terminally failed send with the apology text so the user
// is not left waiting on silence.
func (p *Pipeline) fail(placeholder chat.Message, start time.Time, cause error) (chat.Message, error) {
	final := placeholder
	final.Content = chat.SendFailureReply
	final.Status = chat.StatusError
	final.LatencyMS = p.nowFunc().Sub(start).Milliseconds()
	p.sink.MessageFinished(placeholder.ID, final)
	return final, fmt.Errorf("send: %w", cause)
}
