package transport

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docfetch/docfetch/pkg/errors"
	"github.com/docfetch/docfetch/pkg/logging"
)

const (
	// lineBuffer bounds how many unread frames are held before the reader
	// blocks.
	lineBuffer = 16
	// maxStderr bounds how much worker stderr is retained for error
	// reporting.
	maxStderr = 4096
	// exitWait bounds how long Receive waits for the exit status once the
	// worker's stdout has closed.
	exitWait = time.Second
)

// StdioTransport runs one worker as a child process and frames its stdio as
// newline-delimited messages. The zero value is not usable; call New.
type StdioTransport struct {
	cfg    Config
	logger logging.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines chan []byte

	// readerDone closes when the stdout reader loop ends. termErr, set
	// before the close, records why.
	readerDone chan struct{}
	termErr    error

	// quit closes when Shutdown begins so the reader never blocks a
	// shutdown on a full line buffer.
	quit chan struct{}

	// waitDone closes after cmd.Wait returns. waitErr is the exit error.
	waitDone chan struct{}
	waitErr  error

	stderrMu sync.Mutex
	stderr   []byte

	sendMu       sync.Mutex
	started      bool
	shutdownOnce sync.Once
}

// New returns an unstarted transport for the given worker. A nil logger
// disables logging.
func New(cfg Config, logger logging.Logger) *StdioTransport {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	return &StdioTransport{
		cfg:        cfg,
		logger:     logger.WithFields(logging.String("component", "transport")),
		lines:      make(chan []byte, lineBuffer),
		readerDone: make(chan struct{}),
		waitDone:   make(chan struct{}),
		quit:       make(chan struct{}),
	}
}

// Start spawns the worker process and begins reading its output.
func (t *StdioTransport) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	if len(t.cfg.Env) > 0 {
		cmd.Env = t.cfg.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.SpawnFailed(t.cfg.Command, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.SpawnFailed(t.cfg.Command, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.SpawnFailed(t.cfg.Command, err)
	}

	if err := cmd.Start(); err != nil {
		return errors.SpawnFailed(t.cfg.Command, err)
	}
	t.cmd = cmd
	t.stdin = stdin
	t.started = true
	t.logger.Debug("worker started",
		logging.String("server", t.cfg.Server),
		logging.String("command", t.cfg.Command),
		logging.Int("pid", cmd.Process.Pid))

	var g errgroup.Group
	g.Go(func() error {
		t.readLoop(stdout)
		return nil
	})
	g.Go(func() error {
		t.drainStderr(stderr)
		return nil
	})
	go func() {
		g.Wait()
		t.waitErr = cmd.Wait()
		close(t.waitDone)
		t.logger.Debug("worker exited",
			logging.String("server", t.cfg.Server),
			logging.ErrorField(t.waitErr))
	}()
	return nil
}

// readLoop reads newline-delimited frames from the worker's stdout until it
// closes. A partial line at EOF or a frame past MaxFrameSize is a framing
// violation.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer close(t.readerDone)
	reader := bufio.NewReader(stdout)
	for {
		line, err := t.readFrame(reader)
		if len(line) > 0 && err == nil {
			select {
			case t.lines <- line:
			case <-t.quit:
				return
			}
			continue
		}
		if err == errOversizedFrame {
			t.termErr = errors.Framing(
				errors.MalformedReplyf("frame exceeds %d bytes", t.cfg.MaxFrameSize))
			return
		}
		if err == io.EOF {
			if len(line) > 0 {
				t.termErr = errors.Framing(
					errors.MalformedReplyf("stream ended mid-frame after %d bytes", len(line)))
			}
			return
		}
		if err != nil {
			select {
			case <-t.quit:
			default:
				t.termErr = errors.Framing(err)
			}
			return
		}
	}
}

var errOversizedFrame = stderrors.New("frame exceeds maximum size")

// readFrame accumulates one newline-terminated frame, failing once it grows
// past MaxFrameSize.
func (t *StdioTransport) readFrame(reader *bufio.Reader) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		frame = append(frame, chunk...)
		if len(frame) > t.cfg.MaxFrameSize {
			return nil, errOversizedFrame
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return frame, err
	}
}

// drainStderr retains the tail of the worker's stderr for error reports.
func (t *StdioTransport) drainStderr(stderr io.Reader) {
	buf := make([]byte, 1024)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			t.stderrMu.Lock()
			t.stderr = append(t.stderr, buf[:n]...)
			if len(t.stderr) > maxStderr {
				t.stderr = t.stderr[len(t.stderr)-maxStderr:]
			}
			t.stderrMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Stderr returns the retained tail of the worker's stderr.
func (t *StdioTransport) Stderr() string {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()
	return string(t.stderr)
}

// Pid returns the worker's process id, or 0 before Start.
func (t *StdioTransport) Pid() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Send writes one newline-terminated frame to the worker's stdin.
func (t *StdioTransport) Send(frame []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if !t.started {
		return errors.New(errors.KindInternal, "transport not started")
	}
	select {
	case <-t.readerDone:
		return t.closedError()
	default:
	}
	if _, err := t.stdin.Write(frame); err != nil {
		return errors.TransportClosed(t.cfg.Server, err, t.Stderr())
	}
	return nil
}

// Receive waits for the next frame. It fails with a timeout error when the
// bound elapses, a cancelled error when ctx ends, and a transport or framing
// error when the worker's output closes first.
func (t *StdioTransport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line := <-t.lines:
		return line, nil
	case <-timer.C:
		return nil, errors.ReceiveTimeout(t.cfg.Server, timeout)
	case <-ctx.Done():
		return nil, errors.Cancelled(ctx.Err())
	case <-t.readerDone:
		// Buffered frames may still be pending.
		select {
		case line := <-t.lines:
			return line, nil
		default:
		}
		return nil, t.closedError()
	}
}

// closedError reports why the worker's output closed, waiting briefly for
// the exit status so the report can carry it.
func (t *StdioTransport) closedError() error {
	if t.termErr != nil {
		return t.termErr
	}
	var exitErr error
	select {
	case <-t.waitDone:
		exitErr = t.waitErr
	case <-time.After(exitWait):
	}
	return errors.TransportClosed(t.cfg.Server, exitErr, t.Stderr())
}

// Shutdown closes the worker's stdin, waits up to the configured grace for a
// clean exit, then kills the process. Safe to call more than once and on a
// transport whose Start failed.
func (t *StdioTransport) Shutdown() {
	t.shutdownOnce.Do(func() {
		if !t.started {
			return
		}
		close(t.quit)
		t.stdin.Close()
		select {
		case <-t.waitDone:
			return
		case <-time.After(t.cfg.ShutdownGrace):
		}
		t.logger.Debug("worker did not exit, killing",
			logging.String("server", t.cfg.Server),
			logging.Int("pid", t.Pid()))
		if t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}
		<-t.waitDone
	})
}
