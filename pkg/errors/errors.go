// Package errors provides the unified error type and factory functions for
// the WAL ingestion service. Every layer (domain, application,
// infrastructure, interfaces) uses AppError as the single carrier for
// structured error information, enabling consistent HTTP responses, logging,
// and metrics labels.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// stackDepth is the maximum number of frames captured per error.
const stackDepth = 32

// captureStack returns a formatted call-stack string starting two frames
// above the caller (skipping captureStack itself and New/Wrap).
func captureStack(skip int) string {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		// Trim standard-library noise to keep traces readable.
		if !strings.Contains(f.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// AppError is the single structured error type used throughout the WAL
// service. It satisfies the standard error interface and supports Go 1.13+
// error wrapping so that errors.Is / errors.As / errors.Unwrap work
// transparently across all layers.
//
// Usage:
//
//	return errors.New(errors.CodeNamespaceNotFound, "namespace orders not found")
//	return errors.Wrap(storeErr, errors.CodeDatabaseError, "failed to load namespace")
//	return errors.Validation("payload exceeds maxMessageSize").WithDetail("size=2048 limit=100")
type AppError struct {
	// Code is the typed error code that uniquely identifies the failure
	// category.
	Code ErrorCode

	// Message is the primary human-readable description of the error,
	// suitable for inclusion in API responses returned to callers.
	Message string

	// Detail carries supplementary context (namespace names, message IDs,
	// original driver errors) that aids debugging without leaking sensitive
	// internals to end users.
	Detail string

	// Cause is the underlying error that triggered this AppError, enabling
	// errors.Is / errors.As traversal of the full error chain.
	Cause error

	// Stack contains the formatted call-stack captured at the point of error
	// creation. Stack is intentionally not included in Error() output; the
	// structured logging layer inspects the field directly.
	Stack string
}

// Error implements the standard error interface.
// Format: "[<code_name>(<code_int>)] <message>: <detail>"
// The detail segment is omitted when Detail is empty.
func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s(%d)] %s: %s", e.Code.String(), int(e.Code), e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s(%d)] %s", e.Code.String(), int(e.Code), e.Message)
}

// Unwrap returns the underlying cause error, enabling errors.Is and
// errors.As to traverse the full error chain.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetail returns a shallow copy of the receiver with Detail set to the
// supplied string. It is safe to call on a nil pointer (returns nil).
func (e *AppError) WithDetail(detail string) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithCause returns a shallow copy of the receiver with Cause set to err.
// Use this when you want to attach a lower-level error to an
// already-constructed AppError without going through Wrap.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Cause = err
	return &clone
}

// New constructs a fresh AppError with the given code and message.
// New is the preferred factory for errors that originate in the current
// layer without an underlying cause from a lower layer.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Wrap constructs an AppError that wraps an existing error. If err is nil,
// Wrap returns nil so it can be used inline.
//
// When err is already an *AppError and code is CodeUnknown the original code
// is preserved, preventing loss of the original classification during
// cross-layer propagation.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	// Preserve original code when the caller is just adding context.
	if code == CodeUnknown {
		var ae *AppError
		if errors.As(err, &ae) {
			code = ae.Code
		}
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Stack:   captureStack(1),
	}
}

// IsCode reports whether any error in err's chain is an *AppError with the
// given code. It is the idiomatic way to check specific failure modes:
//
//	if errors.IsCode(err, errors.CodeProducerUnavailable) { ... }
func IsCode(err error, code ErrorCode) bool {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) && ae.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// GetCode extracts the ErrorCode from the first *AppError found in err's
// chain. If no *AppError is present, CodeUnknown is returned. This is how
// middleware and metrics layers derive a single label from any error
// without coupling to specific failure sites.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// FromUnknown normalises an arbitrary error into an *AppError. Known
// AppErrors pass through unchanged; anything else is wrapped as
// CodeInternal with the original message preserved in Detail. Drivers and
// third-party libraries are funnelled through this at layer boundaries.
func FromUnknown(err error) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return &AppError{
		Code:    CodeInternal,
		Message: "internal error",
		Detail:  err.Error(),
		Cause:   err,
		Stack:   captureStack(1),
	}
}

// Convenience factories for the most common error conditions. Each mirrors
// the pattern used at call sites so they read naturally:
//
//	return errors.NamespaceNotFound("orders")
//	return errors.Validation("delay exceeds namespace maximum")

// NamespaceNotFound constructs a CodeNamespaceNotFound AppError for name.
func NamespaceNotFound(name string) *AppError {
	return &AppError{
		Code:    CodeNamespaceNotFound,
		Message: fmt.Sprintf("namespace %q not found", name),
		Stack:   captureStack(1),
	}
}

// NamespaceDisabled constructs a CodeNamespaceDisabled AppError for name.
func NamespaceDisabled(name string) *AppError {
	return &AppError{
		Code:    CodeNamespaceDisabled,
		Message: fmt.Sprintf("namespace %q is disabled", name),
		Stack:   captureStack(1),
	}
}

// Validation constructs a CodeValidation AppError.
func Validation(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
		Stack:   captureStack(1),
	}
}

// SchemaValidation constructs a CodeSchemaValidation AppError.
func SchemaValidation(message string) *AppError {
	return &AppError{
		Code:    CodeSchemaValidation,
		Message: message,
		Stack:   captureStack(1),
	}
}

// InvalidAPIKey constructs a CodeInvalidAPIKey AppError.
func InvalidAPIKey(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidAPIKey,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Forbidden constructs a CodeForbidden AppError.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Stack:   captureStack(1),
	}
}

// ProducerUnavailable constructs a CodeProducerUnavailable AppError.
func ProducerUnavailable(message string) *AppError {
	return &AppError{
		Code:    CodeProducerUnavailable,
		Message: message,
		Stack:   captureStack(1),
	}
}

// RateLimited constructs a CodeRateLimited AppError.
func RateLimited(message string) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Timeout constructs a CodeTimeout AppError.
func Timeout(message string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Internal constructs a CodeInternal AppError. Use this for unexpected
// server-side failures where no more specific code applies.
func Internal(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Stack:   captureStack(1),
	}
}
