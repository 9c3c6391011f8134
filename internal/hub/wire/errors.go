package wire

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates every error the coordination surface can return.
type ErrorKind string

const (
	ErrTimeoutTooLarge       ErrorKind = "TIMEOUT_TOO_LARGE"
	ErrWaitAlreadyActive     ErrorKind = "WAIT_ALREADY_ACTIVE"
	ErrThreadClosed          ErrorKind = "THREAD_CLOSED"
	ErrUnknownThread         ErrorKind = "UNKNOWN_THREAD"
	ErrNotAParticipant       ErrorKind = "NOT_A_PARTICIPANT"
	ErrMentionNotParticipant ErrorKind = "MENTION_NOT_PARTICIPANT"
	ErrUnknownAgent          ErrorKind = "UNKNOWN_AGENT"
	ErrDuplicateAgent        ErrorKind = "DUPLICATE_AGENT"
	ErrUnauthorized          ErrorKind = "UNAUTHORIZED"
	ErrProtocol              ErrorKind = "PROTOCOL_ERROR"
	ErrTransport             ErrorKind = "TRANSPORT_ERROR"
)

// Error is a typed coordination error. It crosses the wire as the
// payload of an error frame.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a typed error.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, or "" if err is not a wire
// error.
func KindOf(err error) ErrorKind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// IsKind reports whether err is a wire error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error is transport-level and safe to
// retry with backoff. Validation errors are never retryable.
func Retryable(err error) bool {
	return IsKind(err, ErrTransport)
}
