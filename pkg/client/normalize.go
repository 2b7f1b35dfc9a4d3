package client

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/docfetch/docfetch/pkg/errors"
	"github.com/docfetch/docfetch/pkg/protocol"
)

// NormalizedResult is the stable output shape of a documentation fetch,
// regardless of how the worker framed its reply.
type NormalizedResult struct {
	Content     string            `json:"content"`
	Library     string            `json:"library"`
	Snippets    []json.RawMessage `json:"snippets"`
	TotalTokens int               `json:"totalTokens"`
	LastUpdated string            `json:"lastUpdated"`
}

// payload is the structured documentation shape some workers return, either
// directly as the tool result or embedded as JSON in a text content item.
type payload struct {
	Content     string            `json:"content"`
	Library     string            `json:"library"`
	Snippets    []json.RawMessage `json:"snippets"`
	TotalTokens int               `json:"totalTokens"`
	LastUpdated string            `json:"lastUpdated"`
}

// Normalize converts a raw tools/call result into a NormalizedResult.
//
// Two worker shapes are accepted: the MCP content-array form, whose joined
// text becomes the content (or, when that text is itself a structured JSON
// document, is unwrapped), and the direct structured form. Missing content is
// a schema violation. An empty library falls back to the requested one, and
// a missing lastUpdated is stamped with now in UTC.
func Normalize(raw json.RawMessage, library string, now time.Time) (*NormalizedResult, error) {
	if len(raw) == 0 {
		return nil, errors.SchemaViolation("content")
	}

	var probe struct {
		Content json.RawMessage `json:"content"`
		IsError bool            `json:"isError"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errors.MalformedReply(err)
	}
	if probe.IsError {
		// A worker-reported failure wins over any shape complaint.
		if _, err := protocol.ParseCallToolResult(raw); err != nil {
			return nil, err
		}
	}
	if len(probe.Content) == 0 || string(probe.Content) == "null" {
		return nil, errors.SchemaViolation("content")
	}

	var p payload
	if probe.Content[0] == '[' {
		res, err := protocol.ParseCallToolResult(raw)
		if err != nil {
			return nil, err
		}
		text := res.TextContent()
		if text == "" {
			return nil, errors.SchemaViolation("content")
		}
		if err := json.Unmarshal([]byte(text), &p); err != nil || p.Content == "" {
			// Plain documentation text, not a structured document.
			p = payload{Content: text}
		}
	} else {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.MalformedReply(err)
		}
		if p.Content == "" {
			return nil, errors.SchemaViolation("content")
		}
	}

	out := &NormalizedResult{
		Content:     p.Content,
		Library:     p.Library,
		Snippets:    p.Snippets,
		TotalTokens: p.TotalTokens,
		LastUpdated: p.LastUpdated,
	}
	if out.Library == "" {
		out.Library = library
	}
	if out.Snippets == nil {
		out.Snippets = []json.RawMessage{}
	}
	if out.LastUpdated == "" {
		out.LastUpdated = now.UTC().Format(time.RFC3339)
	}
	return out, nil
}

var libraryIDRe = regexp.MustCompile(`(?mi)context7-compatible library id:\s*(\S+)`)

// ExtractLibraryID pulls a resolved library id out of a resolve-library-id
// result. Workers answer with a bare string, an object carrying a libraryId
// member, or a text listing of candidate libraries; the first candidate wins.
func ExtractLibraryID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.SchemaViolation("libraryId")
	}

	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		if direct = strings.TrimSpace(direct); direct != "" {
			return direct, nil
		}
		return "", errors.SchemaViolation("libraryId")
	}

	var obj struct {
		LibraryID string `json:"libraryId"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.LibraryID != "" {
		return obj.LibraryID, nil
	}

	res, err := protocol.ParseCallToolResult(raw)
	if err != nil {
		return "", err
	}
	text := res.TextContent()
	if m := libraryIDRe.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}
	if trimmed := strings.TrimSpace(text); strings.HasPrefix(trimmed, "/") && !strings.ContainsAny(trimmed, " \n\t") {
		return trimmed, nil
	}
	return "", errors.SchemaViolation("libraryId")
}
