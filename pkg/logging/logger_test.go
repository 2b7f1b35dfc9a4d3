package logging

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clienterrors "github.com/docfetch/docfetch/pkg/errors"
)

func newTestLogger() (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	formatter := NewTextFormatter()
	formatter.DisableTimestamp = true
	return New(buf, formatter), buf
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newTestLogger()

	log.Debug("hidden")
	assert.Empty(t, buf.String(), "debug should be filtered at default level")

	log.Info("visible")
	assert.Contains(t, buf.String(), "[INFO] visible")

	buf.Reset()
	log.SetLevel(DebugLevel)
	log.Debug("now visible")
	assert.Contains(t, buf.String(), "[DEBUG] now visible")

	buf.Reset()
	log.SetLevel(ErrorLevel)
	log.Warn("hidden again")
	assert.Empty(t, buf.String())
	assert.Equal(t, ErrorLevel, log.GetLevel())
}

func TestWithFields(t *testing.T) {
	log, buf := newTestLogger()

	bound := log.WithFields(String("server", "context7"), Int("pid", 42))
	bound.Info("spawned")

	out := buf.String()
	assert.Contains(t, out, "server=context7")
	assert.Contains(t, out, "pid=42")

	// Parent logger unaffected by the derived one.
	buf.Reset()
	log.Info("plain")
	assert.NotContains(t, buf.String(), "server=")
}

func TestComponentHeader(t *testing.T) {
	log, buf := newTestLogger()

	log.WithFields(String("component", "transport")).Info("started")
	out := buf.String()
	assert.Contains(t, out, "transport: started")
	// Component is not repeated in the field list.
	assert.NotContains(t, out, "component=")
}

func TestFieldsAreSortedAndQuoted(t *testing.T) {
	log, buf := newTestLogger()

	log.Info("msg",
		String("zeta", "a value with spaces"),
		String("alpha", "bare"),
		Duration("elapsed", 250*time.Millisecond),
	)

	out := buf.String()
	require.Contains(t, out, `zeta="a value with spaces"`)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("alpha=")), bytes.Index(buf.Bytes(), []byte("zeta=")))
	assert.Contains(t, out, "elapsed=250ms")
}

func TestWithError(t *testing.T) {
	log, buf := newTestLogger()

	err := clienterrors.ReceiveTimeout("context7", 30*time.Second).
		WithContext(&clienterrors.Context{
			SessionID: "sess-1",
			Server:    "context7",
			Operation: "get-library-docs",
		})

	log.WithError(err).Error("run failed")

	out := buf.String()
	assert.Contains(t, out, "error_kind=timeout")
	assert.Contains(t, out, "error_class=worker")
	assert.Contains(t, out, "session_id=sess-1")
	assert.Contains(t, out, "operation=get-library-docs")
}

func TestWithError_PlainError(t *testing.T) {
	log, buf := newTestLogger()

	log.WithError(io.EOF).Error("boom")
	out := buf.String()
	assert.Contains(t, out, `error="EOF"`)
	assert.Contains(t, out, "error_kind=internal")
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	// Must not panic and must filter everything, including errors.
	log.Error("dropped")
	log.WithFields(String("k", "v")).Info("dropped")
}
