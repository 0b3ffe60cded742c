// Package transport provides the byte-level duplex channel between the
// session controller and the external engine: a spawned child process
// speaking the protocol on stdio, or a TCP connection to an already
// running engine.
//
// A Transport is exclusively owned by one session controller. Only the
// controller calls Send; no other component may write to the channel.
package transport

import "context"

// ExitStatus describes how the engine side of the transport went away.
type ExitStatus struct {
	// Code is the process exit code, or -1 when the process was killed
	// by a signal or the status is unknown.
	Code int

	// Signal names the terminating signal, if any (e.g. "terminated").
	Signal string

	// Err is set when the transport failed rather than the engine
	// exiting (pipe broken, connection reset).
	Err error
}

// Transport delivers whole protocol lines in order and signals
// connect/disconnect/failure.
type Transport interface {
	// Start opens the channel: spawns the child process or dials the
	// engine. An error here is fatal to the session (no retry at this
	// layer).
	Start(ctx context.Context) error

	// Send writes one protocol line. The line must not contain a
	// newline; framing is owned by the transport.
	Send(line []byte) error

	// Lines returns the ordered stream of whole lines read from the
	// engine. The channel is closed when the engine side goes away.
	Lines() <-chan []byte

	// Exited delivers exactly one ExitStatus after the engine side has
	// gone away, whether cleanly, by crash, or by Terminate/Kill.
	Exited() <-chan ExitStatus

	// Terminate asks the engine process to exit (SIGTERM, or closing
	// the connection for socket transports).
	Terminate()

	// Kill forcibly ends the engine process.
	Kill()

	// Close releases all transport resources. It kills the process if
	// it is still running. Safe to call more than once.
	Close() error
}

// maxLineBytes caps a single protocol line. A longer line indicates a
// broken peer, not a legitimate payload.
const maxLineBytes = 1024 * 1024
