package saga

import "fmt"

// RunState is the lifecycle of one Execute call. It is never persisted; it
// exists so that logging and metrics can name the phase a run is in.
type RunState int

const (
	RunStateRunning RunState = iota
	RunStateSucceeded
	RunStateCompensating
	RunStateFailed
)

var validRunTransitions = map[RunState]map[RunState]struct{}{
	RunStateRunning: {
		RunStateSucceeded:    {},
		RunStateCompensating: {},
		RunStateFailed:       {},
	},
	RunStateCompensating: {
		RunStateFailed: {},
	},
}

// String returns the string form of RunState.
func (s RunState) String() string {
	switch s {
	case RunStateRunning:
		return "running"
	case RunStateSucceeded:
		return "succeeded"
	case RunStateCompensating:
		return "compensating"
	case RunStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is terminal.
func (s RunState) IsTerminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed
}

// CanTransitionTo checks whether a run state transition is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	validNext, ok := validRunTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

func (s *RunState) transitionTo(next RunState) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("invalid saga run transition: %s -> %s", *s, next)
	}
	*s = next
	return nil
}
