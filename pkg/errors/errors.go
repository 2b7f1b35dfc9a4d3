// Package errors provides structured error handling for the docfetch client.
// Every failure the client can produce is a ClientError carrying a Kind that
// callers (and the CLI exit-code mapping) can branch on programmatically.
package errors

import (
	"fmt"
	"time"
)

// Context records where an error occurred. It is attached to errors as they
// cross the session boundary so log output and JSON error dumps can be
// correlated with a specific worker conversation.
type Context struct {
	SessionID string    `json:"session_id,omitempty"`
	Server    string    `json:"server,omitempty"`
	Operation string    `json:"operation,omitempty"`
	RequestID int64     `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientError is the single error type returned from a session run. The Kind
// discriminates the failure class; Detail and Cause carry diagnostics.
type ClientError struct {
	kind    Kind
	message string
	detail  string
	cause   error
	context *Context
}

// New creates a ClientError with the given kind and message.
func New(kind Kind, message string) *ClientError {
	return &ClientError{
		kind:    kind,
		message: message,
		context: &Context{Timestamp: time.Now()},
	}
}

// Newf creates a ClientError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *ClientError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates a ClientError that wraps an underlying cause.
func Wrap(cause error, kind Kind, message string) *ClientError {
	e := New(kind, message)
	e.cause = cause
	return e
}

// Wrapf creates a ClientError wrapping a cause, with a formatted message.
func Wrapf(cause error, kind Kind, format string, args ...interface{}) *ClientError {
	return Wrap(cause, kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	msg := e.message
	if e.detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.detail)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.cause.Error())
	}
	return msg
}

// Kind returns the error kind.
func (e *ClientError) Kind() Kind {
	return e.kind
}

// Message returns the base message without detail or cause.
func (e *ClientError) Message() string {
	return e.message
}

// Detail returns the additional detail, if any.
func (e *ClientError) Detail() string {
	return e.detail
}

// Class returns the exit class of the error's kind.
func (e *ClientError) Class() Class {
	return e.kind.Class()
}

// Retryable reports whether a fresh session might succeed.
func (e *ClientError) Retryable() bool {
	return e.kind.Retryable()
}

// Context returns the error context, which may be nil fields but never nil.
func (e *ClientError) Context() *Context {
	return e.context
}

// Unwrap returns the underlying cause for error-chain traversal.
func (e *ClientError) Unwrap() error {
	return e.cause
}

// WithDetail returns a copy of the error with additional detail appended.
func (e *ClientError) WithDetail(detail string) *ClientError {
	clone := *e
	if clone.detail != "" {
		clone.detail = fmt.Sprintf("%s; %s", clone.detail, detail)
	} else {
		clone.detail = detail
	}
	return &clone
}

// WithContext returns a copy of the error with the given context attached.
// The original timestamp is preserved when the new context has none.
func (e *ClientError) WithContext(ctx *Context) *ClientError {
	clone := *e
	if ctx != nil && ctx.Timestamp.IsZero() && e.context != nil {
		ctx.Timestamp = e.context.Timestamp
	}
	clone.context = ctx
	return &clone
}

// ToJSON returns the error as a JSON-serializable map, used by the CLI when
// rendering structured errors for automated callers.
func (e *ClientError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"kind":      string(e.kind),
		"class":     string(e.kind.Class()),
		"message":   e.message,
		"retryable": e.kind.Retryable(),
	}
	if e.detail != "" {
		result["detail"] = e.detail
	}
	if e.cause != nil {
		result["cause"] = e.cause.Error()
	}
	if e.context != nil {
		result["context"] = e.context
	}
	return result
}
