package service

import "fmt"

// Code is the caller-facing error taxonomy. Every failure a caller
// can observe is tagged with exactly one of these.
type Code string

const (
	CodeInvalidArgument    Code = "invalid-argument"
	CodeResourceExhausted  Code = "resource-exhausted"
	CodeFailedPrecondition Code = "failed-precondition"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal"
	CodePermissionDenied   Code = "permission-denied"
)

// Error pairs a taxonomy code with a user-facing message. The cause,
// when present, is for server-side logs only and never reaches the
// caller.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}
