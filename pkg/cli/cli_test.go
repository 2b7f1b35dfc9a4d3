//go:build !windows

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfetch/docfetch/pkg/config"
)

const initReply = `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"stub","version":"0.1.0"}}}`

const stubScript = `read -r init; cat "$1"; read -r notif; read -r call; cat "$2"`

// runCLI executes Run with observability exporters disabled.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv(pushEnv, "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// stubConfig writes a config whose worker replies with the canned frames and
// points DOCFETCH_CONFIG at it.
func stubConfig(t *testing.T, callReply string) {
	t.Helper()
	dir := t.TempDir()
	initPath := filepath.Join(dir, "init.json")
	callPath := filepath.Join(dir, "call.json")
	require.NoError(t, os.WriteFile(initPath, []byte(initReply+"\n"), 0o600))
	require.NoError(t, os.WriteFile(callPath, []byte(callReply+"\n"), 0o600))

	cfgPath := filepath.Join(dir, "config.json")
	cfg := fmt.Sprintf(`{"mcpServers":{"context7":{
		"command":"sh",
		"args":["-c",%q,"sh",%q,%q],
		"timeout":5,"startupTimeout":5
	}}}`, stubScript, initPath, callPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	t.Setenv(config.EnvConfigPath, cfgPath)
}

func TestRunNoArgs(t *testing.T) {
	code, _, stderr := runCLI(t)
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr, "Usage: docfetch")
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "frobnicate")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "docfetch 1.0.0")
	assert.Contains(t, stdout, "2025-03-26")
}

func TestRunHelp(t *testing.T) {
	code, stdout, _ := runCLI(t, "help")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "fetch [options] <library>")
}

func TestFetchOutputsNormalizedJSON(t *testing.T) {
	stubConfig(t, `{"jsonrpc":"2.0","id":2,"result":{"content":"Next.js docs","library":"/vercel/next.js","totalTokens":5000,"lastUpdated":"2025-05-01T00:00:00Z"}}`)

	code, stdout, _ := runCLI(t, "fetch", "--topic", "routing", "/vercel/next.js")
	require.Equal(t, ExitOK, code)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "Next.js docs", out["content"])
	assert.Equal(t, "/vercel/next.js", out["library"])
	assert.Equal(t, "2025-05-01T00:00:00Z", out["lastUpdated"])
	assert.Contains(t, out, "snippets")
	assert.Contains(t, out, "totalTokens")
}

func TestFetchArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing library", args: []string{"fetch"}},
		{name: "two libraries", args: []string{"fetch", "a", "b"}},
		{name: "zero tokens", args: []string{"fetch", "--tokens", "0", "react"}},
		{name: "negative tokens", args: []string{"fetch", "--tokens", "-5", "react"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, tt.args...)
			assert.Equal(t, ExitUsage, code)
		})
	}
}

func TestFetchUnknownServer(t *testing.T) {
	stubConfig(t, `{"jsonrpc":"2.0","id":2,"result":{"content":"unused"}}`)

	code, _, stderr := runCLI(t, "fetch", "--server", "nope", "/lib")
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, stderr, "unknown server")
}

func TestFetchSpawnFailureIsConfigExit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfg := `{"mcpServers":{"context7":{"command":"docfetch-no-such-binary-xyz"}}}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	t.Setenv(config.EnvConfigPath, cfgPath)

	code, _, stderr := runCLI(t, "fetch", "/lib")
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, stderr, "docfetch: spawn:")
}

func TestFetchTimeoutIsWorkerExit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfg := `{"mcpServers":{"context7":{
		"command":"sh",
		"args":["-c","read -r init; exec sleep 10"],
		"startupTimeout":1
	}}}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	t.Setenv(config.EnvConfigPath, cfgPath)

	code, _, stderr := runCLI(t, "fetch", "/lib")
	assert.Equal(t, ExitWorker, code)
	assert.Contains(t, stderr, "docfetch: timeout:")
}

func TestFetchBadRevisionIsContractExit(t *testing.T) {
	dir := t.TempDir()
	initPath := filepath.Join(dir, "init.json")
	badInit := `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"1999-01-01"}}`
	require.NoError(t, os.WriteFile(initPath, []byte(badInit+"\n"), 0o600))
	callPath := filepath.Join(dir, "call.json")
	require.NoError(t, os.WriteFile(callPath, []byte(`{"jsonrpc":"2.0","id":2,"result":{"content":"x"}}`+"\n"), 0o600))

	cfgPath := filepath.Join(dir, "config.json")
	cfg := fmt.Sprintf(`{"mcpServers":{"context7":{
		"command":"sh",
		"args":["-c",%q,"sh",%q,%q],
		"timeout":5,"startupTimeout":5
	}}}`, stubScript, initPath, callPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	t.Setenv(config.EnvConfigPath, cfgPath)

	code, _, stderr := runCLI(t, "fetch", "/lib")
	assert.Equal(t, ExitContract, code)
	assert.Contains(t, stderr, "docfetch: protocol_version:")
}

func TestResolvePrintsID(t *testing.T) {
	stubConfig(t, `{"jsonrpc":"2.0","id":2,"result":"/facebook/react"}`)

	code, stdout, _ := runCLI(t, "resolve", "react")
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "Resolved 'react' to: /facebook/react\n", stdout)
}

func TestResolveMissingArgument(t *testing.T) {
	code, _, _ := runCLI(t, "resolve")
	assert.Equal(t, ExitUsage, code)
}

func TestListConfiguredServers(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfg := `{"mcpServers":{
		"context7":{"command":"npx","args":["-y","@upstash/context7-mcp@latest"]},
		"internal":{"command":"internal-docs","enabled":false}
	}}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	t.Setenv(config.EnvConfigPath, cfgPath)

	code, stdout, _ := runCLI(t, "list")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "context7\tnpx")
	assert.Contains(t, stdout, "internal\tinternal-docs (disabled)")
}
