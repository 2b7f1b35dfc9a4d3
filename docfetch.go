// Package docfetch fetches library documentation through MCP workers.
//
// Each call spawns the configured worker as a child process, performs the
// initialize handshake over newline-delimited JSON-RPC on stdio, issues one
// tool call, normalizes the reply and shuts the worker down. The default
// worker is context7, launched through npx; a .docfetch/config.json in the
// working directory or the home directory overrides it.
package docfetch

import (
	"context"
	"strings"
	"time"

	"github.com/docfetch/docfetch/pkg/client"
	"github.com/docfetch/docfetch/pkg/config"
	"github.com/docfetch/docfetch/pkg/logging"
	"github.com/docfetch/docfetch/pkg/observability"
)

// Tool names exposed by documentation workers.
const (
	ToolGetLibraryDocs   = "get-library-docs"
	ToolResolveLibraryID = "resolve-library-id"
)

// MinTokens is the floor applied to every token budget.
const MinTokens = 5000

// knownLibraryIDs maps common library names to their worker-compatible ids.
// Used when resolution fails so the most frequent requests still succeed.
var knownLibraryIDs = map[string]string{
	"react":  "facebook/react",
	"next":   "vercel/nextjs",
	"nextjs": "vercel/nextjs",
}

// FetchOptions tunes one documentation fetch.
type FetchOptions struct {
	// Topic narrows the documentation to one subject. Empty means all.
	Topic string
	// Tokens is the requested response budget. Values below MinTokens are
	// raised to it.
	Tokens int
	// Server names the configured worker. Empty means the default.
	Server string
	// Timeout overrides the configured reply timeout when positive.
	Timeout time.Duration

	// Logger receives session logs. Nil disables them.
	Logger logging.Logger
	// Metrics records session outcomes. Nil disables them.
	Metrics *observability.Metrics
	// Tracer wraps sessions in trace spans. Nil disables them.
	Tracer *observability.Tracer

	// Config overrides the loaded configuration. Nil loads the default
	// search path.
	Config *config.Config
}

// Client fetches documentation using one loaded configuration.
type Client struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewClient builds a Client from opts, loading configuration from the
// default search path when opts carries none.
func NewClient(opts FetchOptions) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}, nil
}

// FetchDocumentation fetches the documentation for library and returns the
// normalized result.
//
// A bare library name (no slash) is first resolved to a worker-compatible id
// in a separate session; when resolution fails the original name is used and
// the worker decides. A trailing .js suffix is stripped so nextjs and
// next.js resolve alike.
func (c *Client) FetchDocumentation(ctx context.Context, library string, opts FetchOptions) (*client.NormalizedResult, error) {
	srv, err := c.cfg.Server(opts.Server)
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		srv.TimeoutOverride = opts.Timeout
	}

	library = NormalizeLibraryName(library)
	if !strings.Contains(library, "/") {
		resolved, err := c.resolve(ctx, srv, opts.Server, library)
		if err != nil {
			c.logger.WithError(err).Warn("library resolution failed, using the name as given",
				logging.String("library", library))
		} else {
			c.logger.Debug("library resolved",
				logging.String("library", library),
				logging.String("resolved", resolved))
			library = resolved
		}
	}

	tokens := opts.Tokens
	if tokens < MinTokens {
		tokens = MinTokens
	}
	args := map[string]any{
		"context7CompatibleLibraryID": library,
		"tokens":                      tokens,
	}
	if opts.Topic != "" {
		args["topic"] = opts.Topic
	}

	raw, err := c.session(srv, opts.Server).Run(ctx, ToolGetLibraryDocs, args)
	if err != nil {
		return nil, err
	}
	return client.Normalize(raw, library, time.Now())
}

// ResolveLibraryID resolves a library name to a worker-compatible id.
func (c *Client) ResolveLibraryID(ctx context.Context, library string, opts FetchOptions) (string, error) {
	srv, err := c.cfg.Server(opts.Server)
	if err != nil {
		return "", err
	}
	if opts.Timeout > 0 {
		srv.TimeoutOverride = opts.Timeout
	}
	return c.resolve(ctx, srv, opts.Server, NormalizeLibraryName(library))
}

func (c *Client) resolve(ctx context.Context, srv config.ServerConfig, serverName, library string) (string, error) {
	raw, err := c.session(srv, serverName).Run(ctx, ToolResolveLibraryID, map[string]any{
		"libraryName": library,
	})
	if err == nil {
		id, xerr := client.ExtractLibraryID(raw)
		if xerr == nil {
			return id, nil
		}
		err = xerr
	}
	if id, ok := knownLibraryIDs[strings.ToLower(library)]; ok {
		c.logger.Debug("using known library id",
			logging.String("library", library),
			logging.String("id", id))
		return id, nil
	}
	return "", err
}

func (c *Client) session(srv config.ServerConfig, serverName string) *client.Session {
	if serverName == "" {
		serverName = config.DefaultServer
	}
	return client.NewSession(serverName, srv,
		client.WithLogger(c.logger),
		client.WithMetrics(c.metrics),
		client.WithTracer(c.tracer))
}

// NormalizeLibraryName strips a trailing .js from a library name, so nextjs
// and next.js ask for the same documentation.
func NormalizeLibraryName(library string) string {
	library = strings.TrimSpace(library)
	if strings.HasSuffix(library, ".js") && !strings.Contains(library, "/") {
		library = strings.TrimSuffix(library, ".js")
	}
	return library
}

// FetchDocumentation is the package-level convenience wrapper around a
// freshly built Client.
func FetchDocumentation(ctx context.Context, library string, opts FetchOptions) (*client.NormalizedResult, error) {
	c, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	return c.FetchDocumentation(ctx, library, opts)
}

// ResolveLibraryID is the package-level convenience wrapper around a
// freshly built Client.
func ResolveLibraryID(ctx context.Context, library string, opts FetchOptions) (string, error) {
	c, err := NewClient(opts)
	if err != nil {
		return "", err
	}
	return c.ResolveLibraryID(ctx, library, opts)
}
