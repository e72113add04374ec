// Package execution models the persisted state of one workflow execution.
//
// A Context is checked out from storage, mutated by a single handler call and
// saved back. Its methods only change the in-memory value; persisting after
// each transition is the caller's job.
package execution

import (
	"time"

	"github.com/mitchellh/copystructure"

	"github.com/goclaw/conductor/pkg/definition"
)

// Context is the mutable record of one workflow execution. Task maps are
// keyed by task_reference_name.
type Context struct {
	ExecutionID        string           `json:"execution_id"`
	WorkflowName       string           `json:"workflow_name"`
	JobID              string           `json:"job_id,omitempty"`
	UserID             string           `json:"user_id,omitempty"`
	WorkflowInput      map[string]any   `json:"workflow_input"`
	StartTime          time.Time        `json:"start_time"`
	EndTime            *time.Time       `json:"end_time,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
	Status             Status           `json:"status"`
	CurrentTask        string           `json:"current_task,omitempty"`
	CurrentTaskStatus  Status           `json:"current_task_status,omitempty"`
	CurrentTaskError   string           `json:"current_task_error,omitempty"`
	TotalWorkflowTasks int              `json:"total_workflow_tasks"`
	Tasks              map[string]*Task `json:"tasks"`
	ExceptionTask      map[string]*Task `json:"exception_task"`
}

// NewContext creates a RUNNING context for wf. The execution id is assigned
// later by the store.
func NewContext(wf *definition.WorkflowConfig, jobID, userID string, input map[string]any) *Context {
	now := time.Now().UTC()
	if input == nil {
		input = map[string]any{}
	}
	return &Context{
		WorkflowName:       wf.Name,
		JobID:              jobID,
		UserID:             userID,
		WorkflowInput:      input,
		StartTime:          now,
		UpdatedAt:          now,
		Status:             StatusRunning,
		TotalWorkflowTasks: len(wf.Tasks),
		Tasks:              make(map[string]*Task),
		ExceptionTask:      make(map[string]*Task),
	}
}

// IsTerminal reports whether the execution reached a final state.
func (c *Context) IsTerminal() bool {
	return c.Status.IsTerminal()
}

func (c *Context) transition(to Status) error {
	if !c.Status.CanTransitionTo(to) {
		return &TransitionError{Entity: "workflow", From: c.Status, To: to}
	}
	now := time.Now().UTC()
	c.Status = to
	c.UpdatedAt = now
	if to.IsTerminal() {
		c.EndTime = &now
	}
	return nil
}

// Start re-enters RUNNING while the main chain advances.
func (c *Context) Start() error {
	return c.transition(StatusRunning)
}

// Complete marks the execution COMPLETED.
func (c *Context) Complete() error {
	return c.transition(StatusCompleted)
}

// Fail marks the execution FAILED and records reason as the last error.
func (c *Context) Fail(reason string) error {
	if err := c.transition(StatusFailed); err != nil {
		return err
	}
	c.recordError(reason)
	return nil
}

// Terminate marks the execution TERMINATED.
func (c *Context) Terminate(reason string) error {
	if err := c.transition(StatusTerminated); err != nil {
		return err
	}
	c.recordError(reason)
	return nil
}

// Abandon marks the execution ABANDONED, the state used when the broker gave
// up on delivering a remote-call request.
func (c *Context) Abandon(reason string) error {
	if err := c.transition(StatusAbandoned); err != nil {
		return err
	}
	c.recordError(reason)
	return nil
}

// RecordError stores reason as the last error without changing status.
func (c *Context) RecordError(reason string) {
	c.recordError(reason)
	c.UpdatedAt = time.Now().UTC()
}

func (c *Context) recordError(reason string) {
	if reason != "" {
		c.CurrentTaskError = reason
	}
}

// UpdateCurrentTask points the execution at task and mirrors its status.
func (c *Context) UpdateCurrentTask(task *Task) {
	c.CurrentTask = task.ReferenceName
	c.CurrentTaskStatus = task.Status
	if task.Error != "" {
		c.CurrentTaskError = task.Error
	}
	c.UpdatedAt = time.Now().UTC()
}

// EnsureTask returns the main-chain record for cfg, creating it if needed.
func (c *Context) EnsureTask(cfg *definition.TaskConfig) *Task {
	if c.Tasks == nil {
		c.Tasks = make(map[string]*Task)
	}
	return ensure(c.Tasks, cfg)
}

// EnsureExceptionTask returns the exception-chain record for cfg, creating it
// if needed.
func (c *Context) EnsureExceptionTask(cfg *definition.TaskConfig) *Task {
	if c.ExceptionTask == nil {
		c.ExceptionTask = make(map[string]*Task)
	}
	return ensure(c.ExceptionTask, cfg)
}

func ensure(tasks map[string]*Task, cfg *definition.TaskConfig) *Task {
	if task, ok := tasks[cfg.TaskReferenceName]; ok {
		return task
	}
	task := NewTask(cfg)
	tasks[cfg.TaskReferenceName] = task
	return task
}

// Scope exposes the execution as the lookup root for parameter templates.
func (c *Context) Scope() map[string]any {
	input := c.WorkflowInput
	if input == nil {
		input = map[string]any{}
	}
	return map[string]any{
		"execution_id":         c.ExecutionID,
		"workflow_name":        c.WorkflowName,
		"job_id":               c.JobID,
		"user_id":              c.UserID,
		"workflow_input":       input,
		"status":               string(c.Status),
		"current_task":         c.CurrentTask,
		"current_task_status":  string(c.CurrentTaskStatus),
		"current_task_error":   c.CurrentTaskError,
		"total_workflow_tasks": c.TotalWorkflowTasks,
		"tasks":                scopeTasks(c.Tasks),
		"exception_task":       scopeTasks(c.ExceptionTask),
	}
}

func scopeTasks(tasks map[string]*Task) map[string]any {
	out := make(map[string]any, len(tasks))
	for ref, task := range tasks {
		out[ref] = task.scope()
	}
	return out
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	if c.EndTime != nil {
		end := *c.EndTime
		cp.EndTime = &end
	}
	cp.WorkflowInput, _ = deepCopy(c.WorkflowInput).(map[string]any)
	cp.Tasks = cloneTasks(c.Tasks)
	cp.ExceptionTask = cloneTasks(c.ExceptionTask)
	return &cp
}

func cloneTasks(tasks map[string]*Task) map[string]*Task {
	if tasks == nil {
		return nil
	}
	out := make(map[string]*Task, len(tasks))
	for ref, task := range tasks {
		out[ref] = task.Clone()
	}
	return out
}

// deepCopy copies the JSON-shaped values held in inputs and outputs. Nil
// stays nil so that persisted records keep their null fields.
func deepCopy(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if val == nil {
			return val
		}
	case []any:
		if val == nil {
			return val
		}
	}
	cp, err := copystructure.Copy(v)
	if err != nil {
		return v
	}
	return cp
}
