package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// DialTransport reaches an already-running engine over TCP. The wire
// format is identical to the stdio transport: one protocol line per
// message. There is no process to supervise, so Terminate and Kill both
// close the connection and the exit status is synthesized from the
// read-side EOF.
type DialTransport struct {
	addr   string
	logger *slog.Logger

	conn   net.Conn
	lines  chan []byte
	exited chan ExitStatus

	exitOnce  sync.Once
	closeOnce sync.Once
}

// NewDialTransport creates a transport that will dial addr ("host:port").
func NewDialTransport(addr string, logger *slog.Logger) *DialTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &DialTransport{
		addr:   addr,
		logger: logger,
		lines:  make(chan []byte, 16),
		exited: make(chan ExitStatus, 1),
	}
}

// Start dials the engine.
func (t *DialTransport) Start(ctx context.Context) error {
	if t.conn != nil {
		return errors.New("transport already started")
	}

	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dialing engine at %s: %w", t.addr, err)
	}
	t.conn = conn

	go t.readLines()

	return nil
}

// Send writes one protocol line to the connection.
func (t *DialTransport) Send(line []byte) error {
	if t.conn == nil {
		return errors.New("transport not started")
	}
	framed := make([]byte, 0, len(line)+1)
	framed = append(framed, line...)
	framed = append(framed, '\n')
	if _, err := t.conn.Write(framed); err != nil {
		return fmt.Errorf("writing to engine: %w", err)
	}
	return nil
}

// Lines returns the stream of whole lines from the connection.
func (t *DialTransport) Lines() <-chan []byte { return t.lines }

// Exited delivers the synthesized exit status exactly once.
func (t *DialTransport) Exited() <-chan ExitStatus { return t.exited }

// Terminate closes the connection; the remote engine keeps running.
func (t *DialTransport) Terminate() { _ = t.Close() }

// Kill closes the connection; the remote engine keeps running.
func (t *DialTransport) Kill() { _ = t.Close() }

// Close releases the connection. Safe to call more than once.
func (t *DialTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.conn != nil {
			t.conn.Close()
		}
	})
	return nil
}

func (t *DialTransport) readLines() {
	defer close(t.lines)

	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)
		t.lines <- line
	}

	status := ExitStatus{Code: 0}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		status.Code = -1
		status.Err = err
	}
	t.exitOnce.Do(func() { t.exited <- status })
}
