package event

import "fmt"

// DecodeError indicates a record could not be mapped to a known event variant.
type DecodeError struct {
	Field   string // Offending field, if known
	Message string
	Err     error // Underlying parse error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("decode event: %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("decode event: %s", msg)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
