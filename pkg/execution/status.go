package execution

import "fmt"

// Status is the lifecycle state of a workflow execution or of one of its tasks.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
	StatusAbandoned  Status = "ABANDONED"
)

var validTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusRunning: {},
		StatusFailed:  {},
	},
	StatusRunning: {
		StatusRunning:    {},
		StatusCompleted:  {},
		StatusFailed:     {},
		StatusTerminated: {},
		StatusAbandoned:  {},
	},
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated, StatusAbandoned:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	nextStates, ok := validTransitions[s]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// ParseStatus converts a persisted status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTerminated, StatusAbandoned:
		return s, nil
	default:
		return "", fmt.Errorf("unknown execution status %q", raw)
	}
}

// TransitionError is returned when a state change is not allowed.
type TransitionError struct {
	Entity string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}
