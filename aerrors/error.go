// Package aerrors implements the error taxonomy used across the authority
// core: every fallible operation returns either a result or an *Error
// carrying a category, a stable code, a message, and structured context for
// diagnostics.
package aerrors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Category groups errors by how callers and the guard pipeline should react
// to them (surfaced and never retried, retried with backoff, etc).
type Category string

const (
	// CategoryCryptographic covers signature/AEAD/DKG/aggregation failures.
	// Never retried; indicates a bug or an attack in progress.
	CategoryCryptographic Category = "cryptographic"

	// CategoryProtocol covers epoch mismatch, bad state transitions,
	// duplicate nonces, and similar protocol-level violations.
	CategoryProtocol Category = "protocol"

	// CategoryAuthorization covers capability, flow-budget, and
	// circuit-breaker denials.
	CategoryAuthorization Category = "authorization"

	// CategoryData covers journal corruption, tree invariant violations,
	// and primary-key collisions with an incompatible fact kind.
	CategoryData Category = "data"

	// CategoryNetwork covers peer unreachability, receipt timeouts, and
	// sync failures. Retried up to the circuit breaker's threshold.
	CategoryNetwork Category = "network"

	// CategoryResource covers storage quota and concurrency-limit errors.
	CategoryResource Category = "resource"
)

// Error is the structured error type returned by every authority-core
// operation that can fail.
type Error struct {
	Category Category
	Code     string
	Message  string
	Context  map[string]string

	cause *goerrors.Error
}

// New creates an Error of the given category and code, capturing a stack
// trace via go-errors so diagnostics survive across goroutine boundaries.
func New(cat Category, code, message string) *Error {
	return &Error{
		Category: cat,
		Code:     code,
		Message:  message,
		Context:  make(map[string]string),
		cause:    goerrors.Wrap(fmt.Errorf("%s: %s", code, message), 1),
	}
}

// Wrap attaches category/code/message to an existing error, preserving it
// as the underlying cause for errors.Is/As and Unwrap.
func Wrap(cat Category, code string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Category: cat,
		Code:     code,
		Message:  err.Error(),
		Context:  make(map[string]string),
		cause:    goerrors.Wrap(err, 1),
	}
}

// With attaches a context key/value pair and returns the receiver for
// chaining, e.g. aerrors.New(...).With("authority", id.String()).
func (e *Error) With(key, value string) *Error {
	if e == nil {
		return nil
	}
	e.Context[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s[%s]: %s", e.Category, e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil || e.cause == nil {
		return nil
	}
	return e.cause.Err
}

// Stack returns the captured stack trace, for diagnostics only; never
// surfaced to end users.
func (e *Error) Stack() string {
	if e == nil || e.cause == nil {
		return ""
	}
	return string(e.cause.Stack())
}

// Is reports whether target is an *Error with the same category and code,
// allowing callers to do errors.Is(err, aerrors.New(CategoryProtocol,
// "epoch_mismatch", "")) style sentinel comparisons on (category, code).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}
