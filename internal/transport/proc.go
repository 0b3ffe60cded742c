package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/simdash/simdash/internal/logging"
)

// ProcTransport spawns the engine as a child process and exchanges
// protocol lines over its stdin/stdout. Engine stderr is relayed to the
// logger at debug level, one line at a time (stdout is reserved for the
// protocol).
type ProcTransport struct {
	command string
	args    []string
	logger  *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	exited chan ExitStatus

	exitOnce  sync.Once
	closeOnce sync.Once
	started   bool
}

// NewProcTransport creates a transport that will run command with args.
func NewProcTransport(command string, args []string, logger *slog.Logger) *ProcTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcTransport{
		command: command,
		args:    args,
		logger:  logger,
		lines:   make(chan []byte, 16),
		exited:  make(chan ExitStatus, 1),
	}
}

// Start launches the child process and begins reading its output.
func (t *ProcTransport) Start(ctx context.Context) error {
	if t.started {
		return errors.New("transport already started")
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	go t.readLines(stdout)
	go t.relayStderr(stderr)
	go t.wait()

	return nil
}

// Send writes one protocol line to the engine's stdin.
func (t *ProcTransport) Send(line []byte) error {
	if !t.started {
		return errors.New("transport not started")
	}
	framed := make([]byte, 0, len(line)+1)
	framed = append(framed, line...)
	framed = append(framed, '\n')
	if _, err := t.stdin.Write(framed); err != nil {
		return fmt.Errorf("writing to engine: %w", err)
	}
	return nil
}

// Lines returns the stream of whole lines from the engine's stdout.
func (t *ProcTransport) Lines() <-chan []byte { return t.lines }

// Exited delivers the process exit status exactly once.
func (t *ProcTransport) Exited() <-chan ExitStatus { return t.exited }

// Terminate asks the process to exit politely.
func (t *ProcTransport) Terminate() {
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Signal(terminateSignal)
	}
}

// Kill forcibly ends the process.
func (t *ProcTransport) Kill() {
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

// Close releases the transport, killing the process if still running.
func (t *ProcTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil && t.cmd.ProcessState == nil {
			_ = t.cmd.Process.Kill()
		}
	})
	return nil
}

func (t *ProcTransport) readLines(r io.Reader) {
	defer close(t.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)
		t.logger.Log(context.Background(), logging.LevelTrace, "engine line", "line", string(line))
		t.lines <- line
	}

	// A too-long line surfaces here as bufio.ErrTooLong; the peer is
	// considered broken either way, and wait() reports the exit.
	if err := scanner.Err(); err != nil {
		t.logger.Debug("engine stdout closed", "err", err)
	}
}

func (t *ProcTransport) relayStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		t.logger.Debug("engine stderr", "line", scanner.Text())
	}
}

func (t *ProcTransport) wait() {
	err := t.cmd.Wait()

	status := ExitStatus{Code: 0}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
			status.Signal = exitSignal(exitErr)
		} else {
			status.Code = -1
			status.Err = err
		}
	}

	t.exitOnce.Do(func() { t.exited <- status })
}
