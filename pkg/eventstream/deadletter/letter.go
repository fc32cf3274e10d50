// Package deadletter records stream messages that could not be processed.
//
// A consumer still acknowledges poison records, unhandled event types and
// messages whose handlers failed, so they never block the group. Storing them
// as Letters keeps the raw record around for inspection and replay.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Reason classifies why a message was dead-lettered.
type Reason string

const (
	// ReasonDecodeFailed marks a record that could not be decoded into an event.
	ReasonDecodeFailed Reason = "decode_failed"

	// ReasonUnhandled marks an event whose type had no registered handler.
	ReasonUnhandled Reason = "unhandled"

	// ReasonHandlerFailed marks an event for which at least one handler failed.
	ReasonHandlerFailed Reason = "handler_failed"
)

// Letter is one dead-lettered stream message.
type Letter struct {
	ID        string            `json:"id"`
	Reason    Reason            `json:"reason"`
	Stream    string            `json:"stream"`
	MessageID string            `json:"message_id"`
	Group     string            `json:"group"`
	Consumer  string            `json:"consumer"`
	EventID   string            `json:"event_id,omitempty"`
	EventType string            `json:"event_type,omitempty"`
	Handler   string            `json:"handler,omitempty"`
	Error     string            `json:"error"`
	Record    map[string]string `json:"record"`
	FailedAt  time.Time         `json:"failed_at"`
}

// idAlphabet is the character set for letter IDs.
const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewLetter builds a Letter for the message msgID read from stream. The
// event ID and type are taken from the record when present.
func NewLetter(reason Reason, stream, msgID string, record map[string]string, cause error) *Letter {
	l := &Letter{
		ID:        newID(),
		Reason:    reason,
		Stream:    stream,
		MessageID: msgID,
		EventID:   record["event_id"],
		EventType: record["event_type"],
		Record:    record,
		FailedAt:  time.Now().UTC(),
	}
	if cause != nil {
		l.Error = cause.Error()
	}
	return l
}

func newID() string {
	id, err := nanoid.Generate(idAlphabet, 12)
	if err != nil {
		// crypto/rand failure; fall back to a time-based ID.
		return fmt.Sprintf("dl-%d", time.Now().UnixNano())
	}
	return "dl-" + id
}

// Store persists dead letters.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores a letter. A letter with an empty ID gets one assigned.
	Put(ctx context.Context, l *Letter) error

	// List returns up to limit letters, oldest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*Letter, error)

	// ListByReason is List filtered by reason.
	ListByReason(ctx context.Context, reason Reason, limit int) ([]*Letter, error)

	// Get returns a letter by ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Letter, error)

	// Delete removes a letter. Deleting a missing letter is not an error.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored letters.
	Count(ctx context.Context) (int, error)

	// Close releases any resources.
	Close() error
}

// Sentinel errors for dead-letter operations.
var (
	// ErrNotFound indicates a letter doesn't exist.
	ErrNotFound = errors.New("dead letter not found")

	// ErrFull indicates a bounded store has no room left.
	ErrFull = errors.New("dead letter store full")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("dead letter store closed")
)
