package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simdash/simdash/internal/transport"
)

// State is the session lifecycle state. Exactly one state is active at a
// time; transitions are monotonic except for recovery (Error/Stopped →
// Idle via Reset).
type State int

const (
	// StateIdle means no engine process exists yet.
	StateIdle State = iota
	// StateStarting means the transport is being opened or init has not
	// yet been acknowledged.
	StateStarting
	// StateRunning means the engine acknowledged init and will accept
	// commands.
	StateRunning
	// StateStepping means a step request is outstanding.
	StateStepping
	// StateStopping means shutdown is in progress.
	StateStopping
	// StateStopped is the clean terminal state.
	StateStopped
	// StateError is the failure terminal state, reachable from any
	// non-terminal state.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStepping:
		return "stepping"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorClass partitions error events per the failure taxonomy.
type ErrorClass string

const (
	// ErrorTransport covers launch/dial/pipe failures. Fatal to the
	// session; not retried here.
	ErrorTransport ErrorClass = "transport"
	// ErrorProtocol covers unparseable response lines. Recovered
	// locally; the session keeps reading.
	ErrorProtocol ErrorClass = "protocol"
	// ErrorSemantic covers commands whose precondition is unmet and
	// configurations that fail validation. No state change.
	ErrorSemantic ErrorClass = "semantic"
	// ErrorLifecycle covers unexpected engine exits while running.
	ErrorLifecycle ErrorClass = "lifecycle"
)

// Event is delivered on the controller's event channel, in the order
// the corresponding operations were accepted, exactly once each.
type Event interface{ event() }

// ConnectedEvent fires when the transport is open and ready.
type ConnectedEvent struct{}

// DisconnectedEvent fires when the engine side has gone away, after the
// exit has been classified.
type DisconnectedEvent struct {
	Status transport.ExitStatus
}

// StateChangedEvent fires on every state transition.
type StateChangedEvent struct {
	State State
}

// SteppedEvent fires after a successful step response.
type SteppedEvent struct {
	Tick int
}

// SnapshotEvent fires after a snapshot response has been stored.
type SnapshotEvent struct {
	Payload map[string]any
	Kind    string
}

// ErrorEvent fires once per error; Class locates it in the taxonomy.
type ErrorEvent struct {
	Class   ErrorClass
	Message string
}

func (ConnectedEvent) event()    {}
func (DisconnectedEvent) event() {}
func (StateChangedEvent) event() {}
func (SteppedEvent) event()      {}
func (SnapshotEvent) event()     {}
func (ErrorEvent) event()        {}

// sharedState mirrors the run loop's state and tick for the
// cross-goroutine State/CurrentTick accessors.
type sharedState struct {
	mu    sync.Mutex
	state State
	tick  int
}

func (s *sharedState) set(state State, tick int) {
	s.mu.Lock()
	s.state = state
	s.tick = tick
	s.mu.Unlock()
}

func (s *sharedState) get() (State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.tick
}

// CommandRecord correlates an accepted command with log and trace
// output. It is diagnostic only: responses are matched by the
// one-request-in-flight rule, never by record.
type CommandRecord struct {
	Seq      uint64
	Op       string
	ID       uuid.UUID
	IssuedAt time.Time
}
