//go:build !windows

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := New(Config{Command: "cat", Server: "stub"}, nil)
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Send([]byte("ping\n")))
	_, err := tr.Receive(context.Background(), 5*time.Second)
	require.NoError(t, err)
	tr.Shutdown()
}

func TestKilledWorkerLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := New(Config{
		Command:       "sh",
		Args:          []string{"-c", "exec sleep 60"},
		Server:        "stub",
		ShutdownGrace: 100 * time.Millisecond,
	}, nil)
	require.NoError(t, tr.Start(context.Background()))
	tr.Shutdown()
}
