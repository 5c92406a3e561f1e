package session

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a session is moved along an edge the
// lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid session state transition")

// State is a session's lifecycle position.
type State uint8

const (
	// StateConnecting is the transient state of a freshly accepted connection.
	StateConnecting State = iota
	// StateHandshaking means the hello was accepted but the welcome is not confirmed.
	StateHandshaking
	// StateActive sessions receive broadcasts and may send frames.
	StateActive
	// StateDisconnecting is entered on an orderly or error teardown.
	StateDisconnecting
	// StateTimedOut is entered when the liveness sweep expires a session.
	StateTimedOut
	// StateClosed is terminal.
	StateClosed
)

var stateNames = [...]string{
	StateConnecting:    "connecting",
	StateHandshaking:   "handshaking",
	StateActive:        "active",
	StateDisconnecting: "disconnecting",
	StateTimedOut:      "timed-out",
	StateClosed:        "closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

var transitions = map[State][]State{
	StateConnecting:    {StateHandshaking},
	StateHandshaking:   {StateActive, StateClosed},
	StateActive:        {StateDisconnecting, StateTimedOut, StateClosed},
	StateDisconnecting: {StateClosed},
	StateTimedOut:      {StateClosed},
	StateClosed:        nil,
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
