package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWorkflowNotFound is returned when no workflow carries the requested name.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrInvalidInput is returned when a start request lacks declared inputs.
	ErrInvalidInput = errors.New("invalid workflow input")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

// InvalidInputError lists the declared inputs missing from a start request.
type InvalidInputError struct {
	Workflow string
	Missing  []string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%v for workflow %q: missing %s", ErrInvalidInput, e.Workflow, strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrInvalidInput) match.
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}
