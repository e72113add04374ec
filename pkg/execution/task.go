package execution

import (
	"time"

	"github.com/goclaw/conductor/pkg/definition"
)

// Task is the record of one task inside an execution. It has no identity
// outside its owning Context.
type Task struct {
	Name          string         `json:"name"`
	ReferenceName string         `json:"reference_name"`
	Description   string         `json:"description,omitempty"`
	StartTime     *time.Time     `json:"start_time,omitempty"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	Status        Status         `json:"status"`
	Input         map[string]any `json:"input,omitempty"`
	Output        any            `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// NewTask creates a PENDING record for cfg.
func NewTask(cfg *definition.TaskConfig) *Task {
	return &Task{
		Name:          cfg.Name,
		ReferenceName: cfg.TaskReferenceName,
		Description:   cfg.Description,
		Status:        StatusPending,
	}
}

// IsTerminal reports whether the task has finished.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

func (t *Task) transition(to Status) error {
	if !t.Status.CanTransitionTo(to) {
		return &TransitionError{Entity: "task " + t.ReferenceName, From: t.Status, To: to}
	}
	now := time.Now().UTC()
	t.Status = to
	if to == StatusRunning && t.StartTime == nil {
		t.StartTime = &now
	}
	if to.IsTerminal() {
		t.EndTime = &now
	}
	return nil
}

// Start records the resolved input and marks the task RUNNING.
func (t *Task) Start(input map[string]any) error {
	if err := t.transition(StatusRunning); err != nil {
		return err
	}
	t.Input = input
	return nil
}

// Complete records output and message and marks the task COMPLETED.
func (t *Task) Complete(output any, message string) error {
	if err := t.transition(StatusCompleted); err != nil {
		return err
	}
	t.Output = output
	t.Message = message
	return nil
}

// Fail records reason and marks the task FAILED. A PENDING task may fail
// directly when its input cannot be resolved.
func (t *Task) Fail(reason string) error {
	if err := t.transition(StatusFailed); err != nil {
		return err
	}
	t.Error = reason
	return nil
}

// FailWithOutput is Fail for tasks that produced a result before failing.
func (t *Task) FailWithOutput(output any, message, reason string) error {
	if err := t.Fail(reason); err != nil {
		return err
	}
	t.Output = output
	t.Message = message
	return nil
}

// Abandon marks a RUNNING task ABANDONED. The reason becomes both the error
// and the message, whatever the dead-lettered payload said.
func (t *Task) Abandon(output any, reason string) error {
	if err := t.transition(StatusAbandoned); err != nil {
		return err
	}
	t.Output = output
	t.Error = reason
	t.Message = reason
	return nil
}

func (t *Task) scope() map[string]any {
	input := t.Input
	if input == nil {
		input = map[string]any{}
	}
	return map[string]any{
		"name":        t.Name,
		"description": t.Description,
		"status":      string(t.Status),
		"input":       input,
		"output":      t.Output,
		"error":       t.Error,
		"message":     t.Message,
	}
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.StartTime != nil {
		start := *t.StartTime
		cp.StartTime = &start
	}
	if t.EndTime != nil {
		end := *t.EndTime
		cp.EndTime = &end
	}
	cp.Input, _ = deepCopy(t.Input).(map[string]any)
	cp.Output = deepCopy(t.Output)
	return &cp
}
