package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/conductor/pkg/definition"
	"github.com/goclaw/conductor/pkg/dispatch"
	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/logger"
	"github.com/goclaw/conductor/pkg/storage"
)

// StartWorkflow creates a RUNNING execution of workflowName, persists it and
// dispatches the first task. Nothing is persisted when the workflow is
// unknown or input lacks a declared key.
//
// The returned id is valid whenever it is non-empty, even if err reports a
// failure while advancing the first task. The execution runs detached from
// the caller's cancellation; ctx only contributes its values, such as the
// active span.
func (s *Service) StartWorkflow(ctx context.Context, jobID, workflowName string, input map[string]any, userID string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, spanWorkflowStart,
		trace.WithAttributes(
			attribute.String("workflow.name", workflowName),
			attribute.String("job.id", jobID),
		),
	)
	defer span.End()

	wf, ok := s.definitions.GetWorkflowByName(workflowName)
	if !ok {
		span.SetStatus(codes.Error, ErrWorkflowNotFound.Error())
		return "", fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowName)
	}
	if !wf.ValidateInput(input) {
		err := &InvalidInputError{Workflow: workflowName, Missing: wf.MissingInputs(input)}
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	c := execution.NewContext(wf, jobID, userID, input)
	id, err := s.store.Save(ctx, c)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("save execution: %w", err)
	}
	c.ExecutionID = id
	span.SetAttributes(attribute.String("execution.id", id))
	s.metrics.RecordWorkflowStarted(wf.Name)

	log := logger.ForExecution(s.logger, id, wf.Name)
	log.Info("workflow started", "job_id", jobID, "user_id", userID, "tasks", len(wf.Tasks))

	first, ok := wf.FirstTask()
	if !ok {
		return id, s.CompleteWorkflow(ctx, wf, c)
	}
	if err := s.dispatch(ctx, wf, first, c); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return id, err
	}
	return id, nil
}

// ExecuteNextTask dispatches the task declared after task, or completes the
// execution when task was the last one. Terminal executions are left alone.
func (s *Service) ExecuteNextTask(ctx context.Context, wf *definition.WorkflowConfig, task *definition.TaskConfig, c *execution.Context) error {
	log := logger.ForExecution(s.logger, c.ExecutionID, wf.Name)
	if c.IsTerminal() {
		log.Debug("execution is terminal, not advancing", "status", string(c.Status), "after", task.TaskReferenceName)
		return nil
	}

	next, ok := wf.NextTask(task.TaskReferenceName)
	if !ok {
		return s.CompleteWorkflow(ctx, wf, c)
	}
	if err := c.Start(); err != nil {
		log.Warn("execution cannot advance", "status", string(c.Status), "error", err)
		return nil
	}
	log.Debug("advancing", "from", task.TaskReferenceName, "to", next.TaskReferenceName)
	return s.dispatch(ctx, wf, next, c)
}

// CompleteWorkflow marks the execution COMPLETED and persists it.
func (s *Service) CompleteWorkflow(ctx context.Context, wf *definition.WorkflowConfig, c *execution.Context) error {
	log := logger.ForExecution(s.logger, c.ExecutionID, wf.Name)
	if err := c.Complete(); err != nil {
		log.Warn("execution cannot be completed", "status", string(c.Status), "error", err)
		return nil
	}
	if err := s.Persist(ctx, c); err != nil {
		return err
	}
	s.recordFinished(c)
	log.Info("workflow completed", "tasks", len(c.Tasks))
	return nil
}

// ExecuteExceptionTasks starts the exception chain of a failed or abandoned
// execution. Without a declared chain the execution keeps its status.
func (s *Service) ExecuteExceptionTasks(ctx context.Context, wf *definition.WorkflowConfig, c *execution.Context) error {
	s.recordFinished(c)
	log := logger.ForExecution(s.logger, c.ExecutionID, wf.Name)

	first, ok := wf.FirstExceptionTask()
	if !ok {
		log.Info("no exception chain declared", "status", string(c.Status), "error", c.CurrentTaskError)
		return nil
	}
	log.Info("running exception chain", "status", string(c.Status), "error", c.CurrentTaskError)
	return s.dispatch(ctx, wf, first, c)
}

// ExecuteNextExceptionTask dispatches the exception task declared after task.
// An exhausted chain leaves the execution as it is.
func (s *Service) ExecuteNextExceptionTask(ctx context.Context, wf *definition.WorkflowConfig, task *definition.TaskConfig, c *execution.Context) error {
	next, ok := wf.NextExceptionTask(task.TaskReferenceName)
	if !ok {
		logger.ForExecution(s.logger, c.ExecutionID, wf.Name).Info("exception chain finished", "status", string(c.Status))
		return nil
	}
	return s.dispatch(ctx, wf, next, c)
}

// Persist writes c back to the store.
func (s *Service) Persist(ctx context.Context, c *execution.Context) error {
	if err := s.store.Update(ctx, c.ExecutionID, c); err != nil {
		return fmt.Errorf("persist execution %s: %w", c.ExecutionID, err)
	}
	return nil
}

// TerminateWorkflow stops a running execution. Responses that arrive later
// are dropped. Like StartWorkflow it ignores the caller's cancellation.
func (s *Service) TerminateWorkflow(ctx context.Context, executionID, reason string) (*execution.Context, error) {
	ctx = context.WithoutCancel(ctx)
	c, err := s.store.Fetch(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "terminated by request"
	}
	if err := c.Terminate(reason); err != nil {
		return nil, err
	}
	if err := s.Persist(ctx, c); err != nil {
		return nil, err
	}
	s.recordFinished(c)
	logger.ForExecution(s.logger, c.ExecutionID, c.WorkflowName).Info("workflow terminated", "reason", reason)
	return c, nil
}

// GetExecution returns the stored execution.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*execution.Context, error) {
	return s.store.Fetch(ctx, executionID)
}

// ListExecutions returns stored executions matching filter and the total
// count before pagination.
func (s *Service) ListExecutions(ctx context.Context, filter *storage.Filter) ([]*execution.Context, int, error) {
	return s.store.List(ctx, filter)
}

func (s *Service) dispatch(ctx context.Context, wf *definition.WorkflowConfig, task *definition.TaskConfig, c *execution.Context) error {
	return s.dispatcher.Dispatch(ctx, &dispatch.Request{Workflow: wf, Task: task, Context: c})
}

func (s *Service) recordFinished(c *execution.Context) {
	if !c.IsTerminal() {
		return
	}
	duration := c.UpdatedAt.Sub(c.StartTime)
	if c.EndTime != nil {
		duration = c.EndTime.Sub(c.StartTime)
	}
	s.metrics.RecordWorkflowFinished(c.WorkflowName, string(c.Status), duration)
}
