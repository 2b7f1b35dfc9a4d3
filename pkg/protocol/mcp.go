package protocol

import (
	"encoding/json"
	"strings"

	"github.com/docfetch/docfetch/pkg/errors"
)

// Revision is the protocol revision advertised during the initialize
// handshake.
const Revision = "2025-03-26"

// SupportedRevisions lists every revision a worker may answer with and still
// be accepted.
var SupportedRevisions = []string{"2025-03-26", "2024-11-05"}

// Method names spoken during a session.
const (
	MethodInitialize        = "initialize"
	MethodCallTool          = "tools/call"
	NotificationInitialized = "notifications/initialized"
)

// ClientInfo identifies this client in the initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the worker in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ClientInfo      ClientInfo      `json:"clientInfo"`
}

// InitializeResult is the payload of the initialize reply.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo      `json:"serverInfo,omitempty"`
}

// CallToolParams is the payload of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ContentItem is one entry of a tools/call result content array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the payload of a tools/call reply.
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// NewInitializeParams builds the handshake payload for the given client
// identity. Capabilities are empty; this client only calls tools.
func NewInitializeParams(name, version string) InitializeParams {
	return InitializeParams{
		ProtocolVersion: Revision,
		Capabilities:    json.RawMessage(`{}`),
		ClientInfo:      ClientInfo{Name: name, Version: version},
	}
}

// ParseInitializeResult validates the initialize reply payload. A missing or
// unrecognized protocol revision is a protocol version error.
func ParseInitializeResult(raw json.RawMessage) (*InitializeResult, error) {
	var res InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.MalformedReply(err)
	}
	if res.ProtocolVersion == "" {
		return nil, errors.UnsupportedVersion("", SupportedRevisions)
	}
	supported := false
	for _, rev := range SupportedRevisions {
		if res.ProtocolVersion == rev {
			supported = true
			break
		}
	}
	if !supported {
		return nil, errors.UnsupportedVersion(res.ProtocolVersion, SupportedRevisions)
	}
	return &res, nil
}

// ParseCallToolResult validates a tools/call reply payload. A result flagged
// isError is surfaced as an application error carrying the joined text
// content.
func ParseCallToolResult(raw json.RawMessage) (*CallToolResult, error) {
	var res CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.MalformedReply(err)
	}
	if res.IsError {
		msg := res.TextContent()
		if msg == "" {
			msg = "tool call failed"
		}
		return nil, errors.Application(msg)
	}
	return &res, nil
}

// TextContent joins all text items of the content array with newlines.
func (r *CallToolResult) TextContent() string {
	parts := make([]string, 0, len(r.Content))
	for _, item := range r.Content {
		if item.Type == "text" && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}
