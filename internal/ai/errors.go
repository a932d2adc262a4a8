package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass groups completion failures by how callers should react.
type ErrorClass string

const (
	// ErrorClassOverloaded marks transient upstream saturation; retryable.
	ErrorClassOverloaded ErrorClass = "overloaded"
	// ErrorClassMalformed marks an unparseable completion; never retried,
	// since retrying will not fix a prompt/format mismatch.
	ErrorClassMalformed ErrorClass = "malformed"
	// ErrorClassUpstream marks any other completion failure.
	ErrorClassUpstream ErrorClass = "upstream"
)

// Error is a classified completion-pipeline failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	cause      error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("ai: %s", e.Class)
	}
	return fmt.Sprintf("ai: %s: %v", e.Class, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether a retry may help.
func (e *Error) Retryable() bool {
	return e.Class == ErrorClassOverloaded
}

func newError(class ErrorClass, statusCode int, cause error) *Error {
	return &Error{Class: class, StatusCode: statusCode, cause: cause}
}

// IsOverloaded reports whether the error is a transient overload signal.
func IsOverloaded(err error) bool {
	var aiErr *Error
	return errors.As(err, &aiErr) && aiErr.Class == ErrorClassOverloaded
}

// IsMalformed reports whether the error is a parse failure.
func IsMalformed(err error) bool {
	var aiErr *Error
	return errors.As(err, &aiErr) && aiErr.Class == ErrorClassMalformed
}

// classifyUpstream maps a raw completion error to a classified one, keyed on
// status codes and message fragments the providers actually emit.
func classifyUpstream(statusCode int, err error) *Error {
	switch statusCode {
	case 429, 503, 529:
		return newError(ErrorClassOverloaded, statusCode, err)
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "429") ||
		strings.Contains(lower, "503") {
		return newError(ErrorClassOverloaded, statusCode, err)
	}

	return newError(ErrorClassUpstream, statusCode, err)
}
