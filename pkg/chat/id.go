package chat

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ProvisionalPrefix marks client-generated session ids that have not been
// reconciled with a durable backend id yet.
const ProvisionalPrefix = "temp-"

// durableSessionID matches server-assigned conversation ids.
var durableSessionID = regexp.MustCompile(`^cs_[a-z0-9]{6,40}$`)

// NewProvisionalID returns a fresh client-side session id. Provisional ids
// are never sent to the backend and never persisted.
func NewProvisionalID() string {
	return ProvisionalPrefix + uuid.NewString()
}

// IsProvisionalID reports whether id is client-generated.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// IsDurableID reports whether id is in the server-assigned format. Only
// durable ids may be written back to the backend.
func IsDurableID(id string) bool {
	return durableSessionID.MatchString(id)
}

// NewMessageID returns a fresh client-side message id. ULIDs keep placeholder
// messages sortable by creation time before the backend confirms them.
func NewMessageID() string {
	return "msg_" + strings.ToLower(ulid.Make().String())
}

// NewIdempotencyKey returns the key attached to one optimistic session
// create, so a retried request cannot mint a second conversation.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// ValidateSessionID rejects ids that are neither provisional nor in the
// durable server format.
func ValidateSessionID(id string) error {
	switch {
	case id == "":
		return &ValidationError{Field: "session id", Reason: "empty"}
	case IsProvisionalID(id):
		return nil
	case durableSessionID.MatchString(id):
		return nil
	default:
		return &ValidationError{Field: "session id", Reason: "malformed: " + id}
	}
}
