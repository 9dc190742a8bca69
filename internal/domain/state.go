package domain

import (
	"errors"
	"fmt"
)

var ErrUnknownState = errors.New("unknown state")

type State string

const (
	StateCreated       State = "created"
	StateOfferReceived State = "offer_received"
	StateAnswered      State = "answered"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnected  State = "disconnected"
	StateFailed        State = "failed"
	StateClosed        State = "closed"
)

func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateCreated, StateOfferReceived, StateAnswered, StateConnecting,
		StateConnected, StateDisconnected, StateFailed, StateClosed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// Terminal states accept no candidates and are reaped after a grace window.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

var transitions = map[State][]State{
	StateCreated:       {StateOfferReceived},
	StateOfferReceived: {StateAnswered},
	StateAnswered:      {StateConnecting},
	StateConnecting:    {StateConnected, StateDisconnected},
	StateConnected:     {StateDisconnected},
}

// CanTransition reports whether from -> to is allowed.
// failed is reachable from any non-terminal state, closed from any state.
func CanTransition(from, to State) bool {
	switch to {
	case StateClosed:
		return from != StateClosed
	case StateFailed:
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
