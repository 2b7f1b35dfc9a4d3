// Package cli implements the docfetch command line interface.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/docfetch/docfetch"
	"github.com/docfetch/docfetch/pkg/client"
	"github.com/docfetch/docfetch/pkg/config"
	"github.com/docfetch/docfetch/pkg/errors"
	"github.com/docfetch/docfetch/pkg/logging"
	"github.com/docfetch/docfetch/pkg/observability"
)

// Exit codes. Worker failures and contract violations are distinguished so
// callers can retry the former and report the latter.
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitConfig   = 3
	ExitWorker   = 4
	ExitContract = 5
)

// pushEnv names the Pushgateway metrics are pushed to when set.
const pushEnv = "DOCFETCH_PUSHGATEWAY_URL"

const usage = `Usage: docfetch <command> [options]

Commands:
  fetch [options] <library>    Fetch documentation for a library id or name
  resolve [options] <name>     Resolve a library name to a worker-compatible id
  list                         List configured documentation servers
  version                      Print version information

Options for fetch:
  --topic string     Narrow documentation to one topic
  --tokens int       Token budget, minimum 5000 (default 5000)
  --timeout int      Reply timeout in seconds, overrides config
  --server string    Configured server name (default "context7")

Options for resolve:
  --timeout int      Reply timeout in seconds, overrides config
  --server string    Configured server name (default "context7")

Global options:
  --debug            Enable debug logging
  --quiet            Suppress informational logging

Environment:
  DOCFETCH_CONFIG            Config file path, replaces the default search
  DOCFETCH_PUSHGATEWAY_URL   Push session metrics to this Pushgateway
  OTEL_EXPORTER_OTLP_ENDPOINT  Export session traces over OTLP/HTTP
`

// Run executes the command line and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	app := &app{stdout: stdout, stderr: stderr}
	return app.run(args)
}

type app struct {
	stdout io.Writer
	stderr io.Writer
	logger logging.Logger
	debug  bool
}

func (a *app) run(args []string) int {
	args, debug, quiet := splitGlobalFlags(args)
	a.debug = debug

	a.logger = logging.New(a.stderr, nil)
	switch {
	case debug:
		a.logger.SetLevel(logging.DebugLevel)
	case quiet:
		a.logger.SetLevel(logging.WarnLevel)
	}

	if len(args) == 0 {
		fmt.Fprint(a.stderr, usage)
		return ExitUsage
	}

	switch args[0] {
	case "fetch":
		return a.fetch(args[1:])
	case "resolve":
		return a.resolve(args[1:])
	case "list":
		return a.list(args[1:])
	case "version", "-v", "--version":
		fmt.Fprintf(a.stdout, "docfetch %s (protocol %s)\n", client.ClientVersion, "2025-03-26")
		return ExitOK
	case "help", "-h", "--help":
		fmt.Fprint(a.stdout, usage)
		return ExitOK
	default:
		fmt.Fprintf(a.stderr, "docfetch: unknown command %q\n\n", args[0])
		fmt.Fprint(a.stderr, usage)
		return ExitUsage
	}
}

// splitGlobalFlags pulls --debug and --quiet out of args so they work in any
// position, the way the subcommand flags do not.
func splitGlobalFlags(args []string) (rest []string, debug, quiet bool) {
	rest = make([]string, 0, len(args))
	for _, arg := range args {
		switch arg {
		case "--debug", "-debug":
			debug = true
		case "--quiet", "-quiet":
			quiet = true
		default:
			rest = append(rest, arg)
		}
	}
	return rest, debug, quiet
}

func (a *app) fetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	topic := fs.String("topic", "", "narrow documentation to one topic")
	tokens := fs.Int("tokens", docfetch.MinTokens, "token budget")
	timeout := fs.Int("timeout", 0, "reply timeout in seconds")
	server := fs.String("server", "", "configured server name")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.stderr, "docfetch: fetch takes exactly one library argument")
		return ExitUsage
	}
	if *tokens <= 0 {
		fmt.Fprintln(a.stderr, "docfetch: tokens must be positive")
		return ExitUsage
	}

	return a.withSession(func(ctx context.Context, opts docfetch.FetchOptions) error {
		opts.Topic = *topic
		opts.Tokens = *tokens
		opts.Server = *server
		opts.Timeout = time.Duration(*timeout) * time.Second

		res, err := docfetch.FetchDocumentation(ctx, fs.Arg(0), opts)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	})
}

func (a *app) resolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	timeout := fs.Int("timeout", 0, "reply timeout in seconds")
	server := fs.String("server", "", "configured server name")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.stderr, "docfetch: resolve takes exactly one library name")
		return ExitUsage
	}

	return a.withSession(func(ctx context.Context, opts docfetch.FetchOptions) error {
		opts.Server = *server
		opts.Timeout = time.Duration(*timeout) * time.Second

		id, err := docfetch.ResolveLibraryID(ctx, fs.Arg(0), opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Resolved '%s' to: %s\n", fs.Arg(0), id)
		return nil
	})
}

func (a *app) list(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(a.stderr, "docfetch: list takes no arguments")
		return ExitUsage
	}
	cfg, err := config.Load()
	if err != nil {
		return a.fail(err)
	}
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		srv := cfg.Servers[name]
		state := ""
		if srv.Enabled != nil && !*srv.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(a.stdout, "%s\t%s%s\n", name, srv.Command, state)
	}
	return ExitOK
}

// withSession wires logging, metrics and tracing around one documentation
// request and maps its error to an exit code. Metrics are pushed before the
// process exits; a push failure is logged, never fatal.
func (a *app) withSession(fn func(context.Context, docfetch.FetchOptions) error) int {
	ctx := context.Background()

	metrics := observability.NewMetrics(os.Getenv(pushEnv))
	tracer, err := observability.NewTracer(ctx, client.ClientName, client.ClientVersion)
	if err != nil {
		a.logger.WithError(err).Warn("tracing disabled")
	}
	defer func() {
		if err := metrics.Push(); err != nil {
			a.logger.WithError(err).Warn("metrics push failed")
		}
		if err := tracer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Warn("trace flush failed")
		}
	}()

	err = fn(ctx, docfetch.FetchOptions{
		Logger:  a.logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return a.fail(err)
	}
	return ExitOK
}

// fail prints the error and maps its class to an exit code.
func (a *app) fail(err error) int {
	ce := errors.AsClientError(err)
	fmt.Fprintf(a.stderr, "docfetch: %s: %s\n", ce.Kind(), ce.Message())
	if a.debug {
		if detail := ce.Detail(); detail != "" {
			fmt.Fprintf(a.stderr, "  detail: %s\n", detail)
		}
		if cause := ce.Unwrap(); cause != nil {
			fmt.Fprintf(a.stderr, "  cause: %v\n", cause)
		}
	}
	switch ce.Class() {
	case errors.ClassConfig:
		return ExitConfig
	case errors.ClassWorker:
		return ExitWorker
	default:
		return ExitContract
	}
}
