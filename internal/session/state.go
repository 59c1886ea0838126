package session

import "fmt"

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFaulted      State = "faulted"
)

func (s State) String() string {
	return string(s)
}

func ValidateTransition(from, to State) error {
	validTransitions := map[State][]State{
		StateDisconnected: {StateConnecting},
		StateConnecting:   {StateConnected, StateFaulted, StateDisconnected},
		StateConnected:    {StateDisconnected, StateFaulted},
		StateFaulted:      {StateConnecting, StateDisconnected},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
