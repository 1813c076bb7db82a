package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the orchestrator for operations rejected by
// its concurrency guards.
var (
	// ErrSendInFlight rejects a send while a previous one is unresolved.
	ErrSendInFlight = errors.New("a send is already in flight for this session")

	// ErrCreatePending rejects starting a new conversation while an
	// optimistic create has not been reconciled yet.
	ErrCreatePending = errors.New("a session create is already pending")

	// ErrEmptyMessage rejects a send whose text is blank and which carries
	// no attachments.
	ErrEmptyMessage = errors.New("message has no text and no attachments")
)

// NotFoundError reports that the backend does not know a session id. The
// orchestrator treats it as a signal to park the conversation, never to
// delete local state.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// TransportError reports a failure of the streaming transport itself, as
// opposed to a backend-reported completion error. It is the trigger for the
// single-shot fallback path.
type TransportError struct {
	Op  string // the operation that failed, e.g. "open stream"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ValidationError reports client-side rejection of an input before any
// network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CompletionError is a backend-reported failure delivered as a terminal
// error frame on an otherwise healthy stream. It never triggers the
// single-shot fallback: the transport worked, the completion did not.
type CompletionError struct {
	Code    string
	Message string
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed: %s: %s", e.Code, e.Message)
}

// RemoteError reports a non-2xx backend response that is neither a missing
// session nor a transport failure.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}
