package core

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can pick a policy without string
// matching. The set is closed.
type Kind int

const (
	// InputInvalid marks bad user input (grid out of range, too many tiles).
	// Fails a submission synchronously before enqueue.
	InputInvalid Kind = iota
	// TransportTransient marks remote faults worth retrying: timeouts and
	// rate-limit replies.
	TransportTransient
	// RemoteContract marks violations of the remote service's rules, such as
	// a full sticker set. Not retryable.
	RemoteContract
	// IO marks local filesystem failures.
	IO
	// Fatal marks unrecoverable startup failures (migrations, corrupt state).
	Fatal
)

func (k Kind) String() string {
	switch k {
	case InputInvalid:
		return "input_invalid"
	case TransportTransient:
		return "transport_transient"
	case RemoteContract:
		return "remote_contract"
	case IO:
		return "io"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error with a message.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError classifies an existing error.
func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, unwrapping as needed.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return IsKind(err, TransportTransient)
}
