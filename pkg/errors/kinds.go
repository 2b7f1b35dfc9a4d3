package errors

import "errors"

// Kind discriminates the failure classes a client run can produce.
type Kind string

const (
	// KindConfig indicates an invalid or unusable configuration.
	KindConfig Kind = "config"

	// KindSpawn indicates the worker process could not be started.
	KindSpawn Kind = "spawn"

	// KindTimeout indicates no reply arrived within the caller's budget.
	KindTimeout Kind = "timeout"

	// KindTransportClosed indicates the worker exited before replying.
	KindTransportClosed Kind = "transport_closed"

	// KindFraming indicates received bytes could not be delimited into a
	// complete message before the stream closed.
	KindFraming Kind = "framing"

	// KindMalformedReply indicates a framed message that is not a
	// well-formed reply (bad JSON, missing id, id mismatch).
	KindMalformedReply Kind = "malformed_reply"

	// KindProtocolVersion indicates an absent or unsupported protocol
	// version/capability field.
	KindProtocolVersion Kind = "protocol_version"

	// KindApplication indicates the worker explicitly reported a failure.
	KindApplication Kind = "application"

	// KindSchema indicates a successful reply missing required fields:
	// contract drift between client and worker versions.
	KindSchema Kind = "schema"

	// KindCancelled indicates the caller cancelled the session.
	KindCancelled Kind = "cancelled"

	// KindInternal indicates a bug in the client itself.
	KindInternal Kind = "internal"
)

// Class groups kinds by the exit status the CLI should report, so automated
// callers can decide whether a retry or a configuration fix is in order.
type Class string

const (
	// ClassConfig covers failures actionable by fixing configuration.
	ClassConfig Class = "config"

	// ClassWorker covers failures of the worker process or its channel.
	ClassWorker Class = "worker"

	// ClassContract covers wire-format and schema violations.
	ClassContract Class = "contract"
)

// Class returns the exit class for the kind.
func (k Kind) Class() Class {
	switch k {
	case KindConfig, KindSpawn:
		return ClassConfig
	case KindTimeout, KindTransportClosed, KindApplication, KindCancelled:
		return ClassWorker
	default:
		return ClassContract
	}
}

// Retryable reports whether a fresh session with the same configuration might
// succeed. Wire-format violations indicate a version mismatch or worker bug
// and are never retryable.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindTransportClosed:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from any error. Non-ClientError values report
// KindInternal.
func KindOf(err error) Kind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind()
	}
	return KindInternal
}

// IsKind reports whether err is a ClientError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Kind() == kind
}

// AsClientError extracts a ClientError from an error chain, wrapping foreign
// errors as KindInternal so callers always have a uniform shape to report.
func AsClientError(err error) *ClientError {
	if err == nil {
		return nil
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}
	return Wrap(err, KindInternal, "internal error")
}
