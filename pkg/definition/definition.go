// Package definition holds the declarative workflow model loaded at startup.
package definition

import (
	"sort"
)

// TaskType selects the dispatch channel of a task.
type TaskType string

const (
	// TaskTypeLocalCall runs a registered function in-process.
	TaskTypeLocalCall TaskType = "local-call"
	// TaskTypeRemoteCall publishes a request and waits for a broker response.
	TaskTypeRemoteCall TaskType = "remote-call"
	// TaskTypeExceptionStep runs a registered function as part of the exception chain.
	TaskTypeExceptionStep TaskType = "exception-step"
)

// IsValid reports whether t is a known task type.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeLocalCall, TaskTypeRemoteCall, TaskTypeExceptionStep:
		return true
	default:
		return false
	}
}

// TaskConfig declares one step of a workflow.
type TaskConfig struct {
	Name              string            `json:"name" validate:"required"`
	TaskReferenceName string            `json:"task_reference_name" validate:"required"`
	Description       string            `json:"description,omitempty"`
	Type              TaskType          `json:"type" validate:"required,oneof=local-call remote-call exception-step"`
	Topic             string            `json:"topic,omitempty" validate:"required_if=Type remote-call"`
	InputParams       any               `json:"input_params,omitempty"`
	OutputParams      any               `json:"output_params,omitempty"`
	Function          string            `json:"function,omitempty" validate:"required_unless=Type remote-call"`
	Attributes        map[string]string `json:"attributes,omitempty"`
}

// Label returns the description of the task, falling back to its name.
func (t *TaskConfig) Label() string {
	if t.Description != "" {
		return t.Description
	}
	return t.Name
}

// WorkflowConfig declares a named, ordered chain of tasks plus its exception chain.
type WorkflowConfig struct {
	Name          string            `json:"name" validate:"required"`
	Description   string            `json:"description,omitempty"`
	WorkflowInput map[string]string `json:"workflow_input,omitempty"`
	Tasks         []TaskConfig      `json:"tasks" validate:"required,min=1,dive"`
	ExceptionTask []TaskConfig      `json:"exception_task,omitempty" validate:"dive"`
}

// ValidateInput reports whether every declared workflow input is present in input.
func (w *WorkflowConfig) ValidateInput(input map[string]any) bool {
	return len(w.MissingInputs(input)) == 0
}

// MissingInputs returns the declared workflow inputs absent from input, sorted.
func (w *WorkflowConfig) MissingInputs(input map[string]any) []string {
	var missing []string
	for key := range w.WorkflowInput {
		if _, ok := input[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// FirstTask returns the first task of the main chain.
func (w *WorkflowConfig) FirstTask() (*TaskConfig, bool) {
	if len(w.Tasks) == 0 {
		return nil, false
	}
	return &w.Tasks[0], true
}

// TaskByReference looks up a main-chain task by its reference name.
func (w *WorkflowConfig) TaskByReference(ref string) (*TaskConfig, bool) {
	return findTask(w.Tasks, ref)
}

// NextTask returns the main-chain task declared after ref.
func (w *WorkflowConfig) NextTask(ref string) (*TaskConfig, bool) {
	return nextTask(w.Tasks, ref)
}

// FirstExceptionTask returns the head of the exception chain.
func (w *WorkflowConfig) FirstExceptionTask() (*TaskConfig, bool) {
	if len(w.ExceptionTask) == 0 {
		return nil, false
	}
	return &w.ExceptionTask[0], true
}

// ExceptionTaskByReference looks up an exception-chain task by its reference name.
func (w *WorkflowConfig) ExceptionTaskByReference(ref string) (*TaskConfig, bool) {
	return findTask(w.ExceptionTask, ref)
}

// NextExceptionTask returns the exception-chain task declared after ref.
func (w *WorkflowConfig) NextExceptionTask(ref string) (*TaskConfig, bool) {
	return nextTask(w.ExceptionTask, ref)
}

func findTask(tasks []TaskConfig, ref string) (*TaskConfig, bool) {
	for i := range tasks {
		if tasks[i].TaskReferenceName == ref {
			return &tasks[i], true
		}
	}
	return nil, false
}

func nextTask(tasks []TaskConfig, ref string) (*TaskConfig, bool) {
	for i := range tasks {
		if tasks[i].TaskReferenceName == ref {
			if i+1 < len(tasks) {
				return &tasks[i+1], true
			}
			return nil, false
		}
	}
	return nil, false
}

// Subscription declares a broker feed the orchestrator attaches to.
type Subscription struct {
	Topic        string `json:"topic" validate:"required"`
	Subscription string `json:"subscription" validate:"required"`
	Description  string `json:"description,omitempty"`
}

// Definitions is the full declarative document. It is read-only once loaded.
type Definitions struct {
	Workflows     []WorkflowConfig `json:"workflows" validate:"required,min=1,dive"`
	Subscriptions []Subscription   `json:"subscriptions" validate:"dive"`

	byName map[string]*WorkflowConfig
}

// New builds an indexed Definitions from already-decoded values.
func New(workflows []WorkflowConfig, subscriptions []Subscription) *Definitions {
	d := &Definitions{Workflows: workflows, Subscriptions: subscriptions}
	d.buildIndex()
	return d
}

func (d *Definitions) buildIndex() {
	d.byName = make(map[string]*WorkflowConfig, len(d.Workflows))
	for i := range d.Workflows {
		if _, exists := d.byName[d.Workflows[i].Name]; !exists {
			d.byName[d.Workflows[i].Name] = &d.Workflows[i]
		}
	}
}

// GetWorkflowByName returns the workflow declared under name.
func (d *Definitions) GetWorkflowByName(name string) (*WorkflowConfig, bool) {
	if d.byName != nil {
		wf, ok := d.byName[name]
		return wf, ok
	}
	for i := range d.Workflows {
		if d.Workflows[i].Name == name {
			return &d.Workflows[i], true
		}
	}
	return nil, false
}

// RemoteTopics returns the distinct topics used by remote-call tasks, sorted.
func (d *Definitions) RemoteTopics() []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, wf := range d.Workflows {
		for _, task := range wf.Tasks {
			if task.Type != TaskTypeRemoteCall || task.Topic == "" {
				continue
			}
			if _, ok := seen[task.Topic]; ok {
				continue
			}
			seen[task.Topic] = struct{}{}
			topics = append(topics, task.Topic)
		}
	}
	sort.Strings(topics)
	return topics
}
