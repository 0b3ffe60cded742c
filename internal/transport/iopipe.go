package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// IOTransport adapts an arbitrary reader/writer pair to the Transport
// contract. It backs in-process engines (tests, embedded mock engine)
// where there is no child process or socket to supervise.
type IOTransport struct {
	r io.Reader
	w io.WriteCloser

	lines  chan []byte
	exited chan ExitStatus

	exitOnce  sync.Once
	closeOnce sync.Once
	started   bool
}

// NewIOTransport creates a transport reading protocol lines from r and
// writing them to w.
func NewIOTransport(r io.Reader, w io.WriteCloser) *IOTransport {
	return &IOTransport{
		r:      r,
		w:      w,
		lines:  make(chan []byte, 16),
		exited: make(chan ExitStatus, 1),
	}
}

// Start begins reading lines from the reader.
func (t *IOTransport) Start(ctx context.Context) error {
	if t.started {
		return errors.New("transport already started")
	}
	t.started = true
	go t.readLines()
	return nil
}

// Send writes one protocol line.
func (t *IOTransport) Send(line []byte) error {
	if !t.started {
		return errors.New("transport not started")
	}
	framed := make([]byte, 0, len(line)+1)
	framed = append(framed, line...)
	framed = append(framed, '\n')
	if _, err := t.w.Write(framed); err != nil {
		return fmt.Errorf("writing to engine: %w", err)
	}
	return nil
}

// Lines returns the stream of whole lines from the reader.
func (t *IOTransport) Lines() <-chan []byte { return t.lines }

// Exited delivers the synthesized exit status exactly once.
func (t *IOTransport) Exited() <-chan ExitStatus { return t.exited }

// Terminate closes the write side, which an in-process engine treats as
// a shutdown request.
func (t *IOTransport) Terminate() { _ = t.w.Close() }

// Kill closes the write side.
func (t *IOTransport) Kill() { _ = t.w.Close() }

// Close releases both sides. Safe to call more than once.
func (t *IOTransport) Close() error {
	t.closeOnce.Do(func() {
		t.w.Close()
		if c, ok := t.r.(io.Closer); ok {
			c.Close()
		}
	})
	return nil
}

func (t *IOTransport) readLines() {
	defer close(t.lines)

	scanner := bufio.NewScanner(t.r)
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
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		status.Code = -1
		status.Err = err
	}
	t.exitOnce.Do(func() { t.exited <- status })
}
