// Package domainerrors provides code-classified errors that cross module
// boundaries. Stores return sentinel errors (pkg/platform/sentinel); services
// translate them into coded errors here so transports can map them uniformly.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the caller-visible class of a failure.
type Code string

const (
	// CodeBadRequest covers malformed or schema-rejected input. Never retried.
	CodeBadRequest Code = "bad_request"
	// CodeUnauthorized covers absent, invalid, or expired credentials.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden covers authenticated callers with insufficient permissions.
	CodeForbidden Code = "forbidden"
	// CodeNotFound covers entities absent within the caller's tenant scope.
	CodeNotFound Code = "not_found"
	// CodeConflict covers uniqueness and concurrent-mutation violations.
	CodeConflict Code = "conflict"
	// CodeTimeout covers downstream deadlines (storage, cache, transport).
	CodeTimeout Code = "timeout"
	// CodeUnavailable covers downstream services that are unreachable.
	CodeUnavailable Code = "unavailable"
	// CodeInternal covers everything the caller cannot act on.
	CodeInternal Code = "internal"
)

// Error is a coded error with an operator-facing message.
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

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause chain.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first coded error in the chain, or
// CodeInternal when none is found.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the message of the first coded error in the chain, or a
// generic message for uncoded errors so internals do not leak to callers.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
