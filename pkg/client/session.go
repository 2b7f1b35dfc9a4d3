// Package client drives one documentation request through a worker: spawn,
// initialize handshake, a single tool call, normalize, shutdown.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/docfetch/docfetch/pkg/config"
	"github.com/docfetch/docfetch/pkg/errors"
	"github.com/docfetch/docfetch/pkg/logging"
	"github.com/docfetch/docfetch/pkg/observability"
	"github.com/docfetch/docfetch/pkg/protocol"
	"github.com/docfetch/docfetch/pkg/transport"
)

// ClientName and ClientVersion identify this client during the handshake.
const (
	ClientName    = "docfetch"
	ClientVersion = "1.0.0"
)

// State is the session lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateHandshaking
	StateAwaitingReply
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateHandshaking:
		return "handshaking"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session runs exactly one tool call against one spawned worker. A session
// is single-use; create a new one per request.
type Session struct {
	id     string
	server string
	cfg    config.ServerConfig

	tr      transport.Transport
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	state  atomic.Int32
	nextID atomic.Int64
}

// Option configures a session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics records session outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTracer wraps the session in a trace span.
func WithTracer(tr *observability.Tracer) Option {
	return func(s *Session) { s.tracer = tr }
}

// WithTransport overrides the worker transport. Used in tests.
func WithTransport(tr transport.Transport) Option {
	return func(s *Session) { s.tr = tr }
}

// NewSession prepares a session against the named server definition.
func NewSession(server string, cfg config.ServerConfig, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		server: server,
		cfg:    cfg,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tr == nil {
		s.tr = transport.New(transport.Config{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Environ(),
			Server:  server,
		}, s.logger)
	}
	s.logger = s.logger.WithFields(
		logging.String("component", "session"),
		logging.String("session_id", s.id),
		logging.String("server", server))
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Run spawns the worker, performs the initialize handshake, issues a single
// tools/call and returns its raw result payload. The worker is shut down on
// every exit path.
func (s *Session) Run(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return nil, errors.New(errors.KindInternal, "session already used")
	}

	start := time.Now()
	ctx, span := s.tracer.StartSession(ctx, s.server, tool)

	res, err := s.run(ctx, tool, args)
	if err != nil {
		s.state.Store(int32(StateFailed))
		err = s.attach(err, tool)
		s.logger.WithError(err).Error("session failed",
			logging.Duration("elapsed", time.Since(start)))
	} else {
		s.state.Store(int32(StateCompleted))
		s.logger.Debug("session completed",
			logging.String("tool", tool),
			logging.Duration("elapsed", time.Since(start)))
	}
	s.metrics.ObserveSession(s.server, tool, time.Since(start), err)
	s.tracer.EndSession(span, err)
	return res, err
}

func (s *Session) run(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if err := s.tr.Start(ctx); err != nil {
		return nil, err
	}
	defer s.tr.Shutdown()

	s.state.Store(int32(StateHandshaking))
	if err := s.handshake(ctx); err != nil {
		return nil, err
	}

	s.state.Store(int32(StateAwaitingReply))
	return s.call(ctx, tool, args)
}

// handshake sends initialize, validates the reply within the startup
// timeout, then announces readiness.
func (s *Session) handshake(ctx context.Context) error {
	raw, err := s.roundTrip(ctx, protocol.MethodInitialize,
		protocol.NewInitializeParams(ClientName, ClientVersion), s.cfg.StartupTimeout())
	if err != nil {
		return err
	}
	res, err := protocol.ParseInitializeResult(raw)
	if err != nil {
		return err
	}
	s.logger.Debug("handshake complete",
		logging.String("worker", res.ServerInfo.Name),
		logging.String("revision", res.ProtocolVersion))

	note, err := protocol.NewNotification(protocol.NotificationInitialized, nil)
	if err != nil {
		return err
	}
	frame, err := protocol.EncodeNotification(note)
	if err != nil {
		return err
	}
	return s.tr.Send(frame)
}

func (s *Session) call(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	return s.roundTrip(ctx, protocol.MethodCallTool,
		protocol.CallToolParams{Name: tool, Arguments: args}, s.cfg.Timeout())
}

// roundTrip sends one request and waits for the matching reply. Frames whose
// id does not match are rejected, not skipped; a single-request session has
// nothing else in flight.
func (s *Session) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	frame, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.tr.Send(frame); err != nil {
		return nil, err
	}

	line, err := s.tr.Receive(ctx, timeout)
	if err != nil {
		return nil, err
	}
	reply, err := protocol.DecodeReply(line)
	if err != nil {
		return nil, err
	}
	if reply.ID != id {
		return nil, errors.MalformedReplyf("request id mismatch: sent %d, got %d", id, reply.ID)
	}
	return reply.Result, nil
}

// attach stamps the error with this session's identity for logs and output.
func (s *Session) attach(err error, tool string) error {
	ce := errors.AsClientError(err)
	return ce.WithContext(&errors.Context{
		SessionID: s.id,
		Server:    s.server,
		Operation: tool,
		RequestID: s.nextID.Load(),
	})
}
