package eventstream

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

// Sentinel errors.
var (
	// ErrGroupExists indicates a consumer group was already there. Publisher
	// and ConsumerGroup treat it as success.
	ErrGroupExists = stream.ErrGroupExists

	// ErrNoHandlers indicates Consume was called with no event types and no
	// registered handlers to derive them from.
	ErrNoHandlers = errors.New("no event types to consume")

	// ErrAlreadyRunning indicates Consume was called on a running group.
	ErrAlreadyRunning = errors.New("consumer group already running")
)

// PublishError reports a failed append. The publisher does not retry.
type PublishError struct {
	EventID   string
	EventType string
	Stream    string
	Err       error
}

// Error implements the error interface.
func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s %s to %s: %v", e.EventType, e.EventID, e.Stream, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PublishError) Unwrap() error {
	return e.Err
}

// HandlerError reports a handler that returned an error or panicked.
// It is logged and dead-lettered, never returned to a caller.
type HandlerError struct {
	EventID   string
	EventType string
	Handler   string
	Err       error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %s %s: %v", e.Handler, e.EventType, e.EventID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError captures a handler panic.
type PanicError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// BrokerError reports a failed broker command.
type BrokerError struct {
	Op     string // read, ack, pending, claim, create_group
	Stream string
	Err    error
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("broker %s on %s: %v", e.Op, e.Stream, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BrokerError) Unwrap() error {
	return e.Err
}
