// Package pushclient runs the background task that dials the dashboard
// collector, performs the Hello/HelloAck handshake, and streams periodic
// GraphReply frames with bounded backpressure: an explicit state enum, a
// recorded transition history, and per-step timeouts driving the 2-step
// raw-TCP Hello/HelloAck handshake.
package pushclient

import (
	"sync"
	"time"
)

// State is a step in the push client's reconnect lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateStreaming
	StateDisconnected
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateStreaming:
		return "STREAMING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Transition records one state change for debugging/introspection.
type Transition struct {
	From State
	To   State
	At   time.Time
	Err  error
}

var validTransitions = map[State][]State{
	StateIdle:         {StateConnecting, StateShutdown},
	StateConnecting:   {StateHandshaking, StateDisconnected, StateShutdown},
	StateHandshaking:  {StateStreaming, StateDisconnected, StateShutdown},
	StateStreaming:    {StateDisconnected, StateShutdown},
	StateDisconnected: {StateConnecting, StateShutdown},
}

// stateMachine is the push client's own small state tracker: guarded
// independently of the connection loop so status reads (debugsrv /healthz)
// never block on an in-flight dial.
type stateMachine struct {
	mu      sync.RWMutex
	current State
	history []Transition
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle}
}

func (sm *stateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// transition moves to `to` if valid from the current state; invalid
// transitions are a programming error in the reconnect loop, not a user-
// facing failure, so they panic rather than silently no-op.
func (sm *stateMachine) transition(to State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	allowed := validTransitions[sm.current]
	ok := false
	for _, s := range allowed {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		panic("peeps/pushclient: invalid state transition " + sm.current.String() + " -> " + to.String())
	}

	sm.history = append(sm.history, Transition{From: sm.current, To: to, At: time.Now()})
	sm.current = to
}

func (sm *stateMachine) History() []Transition {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]Transition, len(sm.history))
	copy(out, sm.history)
	return out
}
