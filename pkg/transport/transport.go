// Package transport spawns documentation workers as child processes and
// exchanges newline-delimited frames with them over stdio.
package transport

import (
	"context"
	"time"
)

// Transport is one spawned worker's framed stdio channel. Implementations
// must make Shutdown idempotent and safe to call on every exit path.
type Transport interface {
	// Start spawns the worker. It fails if the binary cannot be launched.
	Start(ctx context.Context) error
	// Send writes one frame. The frame must already carry its trailing
	// newline.
	Send(frame []byte) error
	// Receive waits up to timeout for the next frame from the worker.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	// Shutdown closes the worker's stdin, waits briefly for a clean exit,
	// then kills the process.
	Shutdown()
}

// Config describes the worker process to spawn.
type Config struct {
	// Command is the binary to execute.
	Command string
	// Args are passed verbatim to the binary.
	Args []string
	// Env is the full environment for the child. Empty means inherit.
	Env []string
	// Server is the configured server name, used in errors and logs.
	Server string
	// ShutdownGrace bounds the wait for a clean exit after stdin closes
	// before the process is killed. Zero means DefaultShutdownGrace.
	ShutdownGrace time.Duration
	// MaxFrameSize bounds a single frame's size in bytes. A worker that
	// streams a longer line is a framing violation. Zero means
	// DefaultMaxFrameSize.
	MaxFrameSize int
}

// DefaultShutdownGrace is the default wait for a worker to exit after its
// stdin is closed.
const DefaultShutdownGrace = 2 * time.Second

// DefaultMaxFrameSize is the default bound on a single frame. Documentation
// payloads run to a few hundred kilobytes; anything past this is a worker
// gone wrong.
const DefaultMaxFrameSize = 10 << 20
