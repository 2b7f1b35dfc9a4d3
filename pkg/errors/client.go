package errors

import (
	"fmt"
	"strings"
	"time"
)

// SpawnFailed creates an error for a worker that could not be launched.
// Fatal and configuration-actionable: the executable is missing, not
// executable, or exited during startup.
func SpawnFailed(command string, cause error) *ClientError {
	return Wrapf(cause, KindSpawn, "failed to launch worker %q", command)
}

// ReceiveTimeout creates an error for a reply that did not arrive in time.
func ReceiveTimeout(server string, timeout time.Duration) *ClientError {
	return Newf(KindTimeout, "no reply from server %q within %s", server, timeout)
}

// TransportClosed creates an error for a worker that exited before replying.
// Captured stderr is attached as detail since it is usually the only clue to
// why the worker died.
func TransportClosed(server string, exitErr error, stderr string) *ClientError {
	e := Wrapf(exitErr, KindTransportClosed, "server %q exited unexpectedly", server)
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		e = e.WithDetail("stderr: " + truncate(stderr, 512))
	}
	return e
}

// Framing creates an error for bytes that could not be delimited into a
// complete message.
func Framing(cause error) *ClientError {
	return Wrap(cause, KindFraming, "incomplete or oversized message frame")
}

// MalformedReply creates an error for a frame that is not a well-formed reply.
func MalformedReply(cause error) *ClientError {
	return Wrap(cause, KindMalformedReply, "malformed reply")
}

// MalformedReplyf creates a malformed-reply error with a formatted message.
func MalformedReplyf(format string, args ...interface{}) *ClientError {
	return Newf(KindMalformedReply, format, args...)
}

// UnsupportedVersion creates an error for an absent or unrecognized protocol
// version. got is empty when the version field was missing entirely.
func UnsupportedVersion(got string, supported []string) *ClientError {
	if got == "" {
		return Newf(KindProtocolVersion, "reply carries no protocol version (supported: %s)",
			strings.Join(supported, ", "))
	}
	return Newf(KindProtocolVersion, "unsupported protocol version %q (supported: %s)",
		got, strings.Join(supported, ", "))
}

// Application creates an error for a failure the worker itself reported. The
// worker's description is surfaced verbatim.
func Application(message string) *ClientError {
	return New(KindApplication, message)
}

// SchemaViolation creates an error for a successful reply missing a required
// field.
func SchemaViolation(field string) *ClientError {
	return Newf(KindSchema, "reply missing required field %q", field)
}

// Cancelled creates an error for a caller-cancelled session.
func Cancelled(cause error) *ClientError {
	return Wrap(cause, KindCancelled, "session cancelled")
}

// ConfigError creates a configuration error.
func ConfigError(format string, args ...interface{}) *ClientError {
	return Newf(KindConfig, format, args...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes truncated)", s[:max], len(s)-max)
}
