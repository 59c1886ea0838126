package system

import "fmt"

type SystemState string

const (
	StateInitializing SystemState = "initializing"
	StateRunning      SystemState = "running"
	StateStopping     SystemState = "stopping"
	StateStopped      SystemState = "stopped"
	StateError        SystemState = "error"
)

func (s SystemState) String() string {
	return string(s)
}

func ValidateTransition(from, to SystemState) error {
	validTransitions := map[SystemState][]SystemState{
		StateInitializing: {StateRunning, StateError, StateStopping},
		StateRunning:      {StateStopping, StateError},
		StateStopping:     {StateStopped, StateError},
		StateStopped:      {},
		StateError:        {StateStopping, StateStopped},
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
