//go:build !windows

package docfetch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfetch/docfetch/pkg/config"
	"github.com/docfetch/docfetch/pkg/errors"
)

const initReply = `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"stub","version":"0.1.0"}}}`

// captureScript answers the handshake from $1 and the tool call from $2,
// recording the tool call frame in $3.
const captureScript = `read -r init; cat "$1"; read -r notif; read -r call; printf '%s\n' "$call" > "$3"; cat "$2"`

// statefulScript answers the first session's tool call from $2 and every
// later session's from $3, using $4 as the state marker.
const statefulScript = `read -r init; cat "$1"; read -r notif; read -r call
if [ -f "$4" ]; then cat "$3"; else : > "$4"; cat "$2"; fi`

func writeFrame(t *testing.T, dir, name, frame string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(frame+"\n"), 0o600))
	return path
}

func captureConfig(t *testing.T, callReply string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	initPath := writeFrame(t, dir, "init.json", initReply)
	callPath := writeFrame(t, dir, "call.json", callReply)
	capturePath := filepath.Join(dir, "captured.json")
	cfg := &config.Config{Servers: map[string]config.ServerConfig{
		config.DefaultServer: {
			Command:               "sh",
			Args:                  []string{"-c", captureScript, "sh", initPath, callPath, capturePath},
			TimeoutSeconds:        5,
			StartupTimeoutSeconds: 5,
		},
	}}
	return cfg, capturePath
}

func capturedArguments(t *testing.T, capturePath string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(capturePath)
	require.NoError(t, err)
	var frame struct {
		Method string `json:"method"`
		Params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, "tools/call", frame.Method)
	return frame.Params.Arguments
}

func TestFetchDocumentation(t *testing.T) {
	callReply := `{"jsonrpc":"2.0","id":2,"result":{"content":"Next.js routing docs","library":"/vercel/next.js","totalTokens":5000,"lastUpdated":"2025-05-01T00:00:00Z"}}`
	cfg, capturePath := captureConfig(t, callReply)

	res, err := FetchDocumentation(context.Background(), "/vercel/next.js", FetchOptions{
		Config: cfg,
		Topic:  "routing",
		Tokens: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, "Next.js routing docs", res.Content)
	assert.Equal(t, "/vercel/next.js", res.Library)
	assert.Equal(t, "2025-05-01T00:00:00Z", res.LastUpdated)

	args := capturedArguments(t, capturePath)
	assert.Equal(t, "/vercel/next.js", args["context7CompatibleLibraryID"])
	assert.Equal(t, "routing", args["topic"])
	assert.Equal(t, float64(MinTokens), args["tokens"])
}

func TestFetchResolvesBareName(t *testing.T) {
	dir := t.TempDir()
	initPath := writeFrame(t, dir, "init.json", initReply)
	resolvePath := writeFrame(t, dir, "resolve.json",
		`{"jsonrpc":"2.0","id":2,"result":"/vercel/next.js"}`)
	fetchPath := writeFrame(t, dir, "fetch.json",
		`{"jsonrpc":"2.0","id":2,"result":{"content":"docs","library":"/vercel/next.js"}}`)
	statePath := filepath.Join(dir, "state")
	cfg := &config.Config{Servers: map[string]config.ServerConfig{
		config.DefaultServer: {
			Command:               "sh",
			Args:                  []string{"-c", statefulScript, "sh", initPath, resolvePath, fetchPath, statePath},
			TimeoutSeconds:        5,
			StartupTimeoutSeconds: 5,
		},
	}}

	res, err := FetchDocumentation(context.Background(), "nextjs", FetchOptions{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, "docs", res.Content)
	assert.Equal(t, "/vercel/next.js", res.Library)
}

func TestFetchFallsBackWhenResolutionFails(t *testing.T) {
	dir := t.TempDir()
	initPath := writeFrame(t, dir, "init.json", initReply)
	resolvePath := writeFrame(t, dir, "resolve.json",
		`{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"unknown library"}}`)
	fetchPath := writeFrame(t, dir, "fetch.json",
		`{"jsonrpc":"2.0","id":2,"result":{"content":"docs"}}`)
	statePath := filepath.Join(dir, "state")
	cfg := &config.Config{Servers: map[string]config.ServerConfig{
		config.DefaultServer: {
			Command:               "sh",
			Args:                  []string{"-c", statefulScript, "sh", initPath, resolvePath, fetchPath, statePath},
			TimeoutSeconds:        5,
			StartupTimeoutSeconds: 5,
		},
	}}

	res, err := FetchDocumentation(context.Background(), "mylib", FetchOptions{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, "docs", res.Content)
	assert.Equal(t, "mylib", res.Library)
}

func TestResolveFallsBackToKnownID(t *testing.T) {
	stubConfig := func(t *testing.T) *config.Config {
		cfg, _ := captureConfig(t,
			`{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"resolver down"}}`)
		return cfg
	}

	id, err := ResolveLibraryID(context.Background(), "react", FetchOptions{Config: stubConfig(t)})
	require.NoError(t, err)
	assert.Equal(t, "facebook/react", id)

	_, err = ResolveLibraryID(context.Background(), "obscurelib", FetchOptions{Config: stubConfig(t)})
	require.Error(t, err)
	assert.Equal(t, errors.KindApplication, errors.KindOf(err))
}

func TestResolveLibraryID(t *testing.T) {
	callReply := `{"jsonrpc":"2.0","id":2,"result":"/facebook/react"}`
	cfg, capturePath := captureConfig(t, callReply)

	id, err := ResolveLibraryID(context.Background(), "react", FetchOptions{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, "/facebook/react", id)

	args := capturedArguments(t, capturePath)
	assert.Equal(t, "react", args["libraryName"])
}

func TestFetchSubSecondTimeout(t *testing.T) {
	dir := t.TempDir()
	initPath := writeFrame(t, dir, "init.json", initReply)
	cfg := &config.Config{Servers: map[string]config.ServerConfig{
		config.DefaultServer: {
			Command:               "sh",
			Args:                  []string{"-c", `read -r init; cat "$1"; read -r notif; read -r call; exec sleep 10`, "sh", initPath},
			TimeoutSeconds:        30,
			StartupTimeoutSeconds: 5,
		},
	}}

	start := time.Now()
	_, err := FetchDocumentation(context.Background(), "/vercel/next.js", FetchOptions{
		Config:  cfg,
		Timeout: 300 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchUnknownServer(t *testing.T) {
	cfg := &config.Config{Servers: map[string]config.ServerConfig{
		config.DefaultServer: {Command: "sh"},
	}}
	_, err := FetchDocumentation(context.Background(), "/lib", FetchOptions{
		Config: cfg,
		Server: "nope",
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))
}

func TestNormalizeLibraryName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"nextjs", "nextjs"},
		{"next.js", "next"},
		{" react ", "react"},
		{"/vercel/next.js", "/vercel/next.js"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeLibraryName(tt.in))
	}
}
