package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transport or peer-side failure so callers can decide
// between retrying, rebuilding a connection, or abandoning an assignment.
type ErrorKind int

const (
	// KindUnreachable means the underlying connect failed.
	KindUnreachable ErrorKind = iota
	// KindTimeout means a deadline expired mid-request.
	KindTimeout
	// KindProtocolViolation means an out-of-order send or a mismatched
	// request id was detected on a lockstep connection.
	KindProtocolViolation
	// KindMalformedResponse means the reply could not be decoded into the
	// expected message schema.
	KindMalformedResponse
	// KindInferenceFailure means the peer-side model reported an error.
	// The peer stays up; only the offending partition is affected.
	KindInferenceFailure
)

// String returns the wire/reporting name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindMalformedResponse:
		return "malformed_response"
	case KindInferenceFailure:
		return "inference_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is the typed error returned by the transport and the peer runtime.
// It wraps the underlying cause so callers can still use errors.Is on it.
type Error struct {
	Kind  ErrorKind
	cause error
}

// NewError builds a kinded error wrapping cause (cause may be nil).
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, cause: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the ErrorKind from err, walking the wrap chain.
// Returns ok=false for plain errors that carry no kind.
func KindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
