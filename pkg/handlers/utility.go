package handlers

import (
	"context"
	"time"

	"github.com/goclaw/conductor/pkg/dispatch"
)

// Utility runs local-call tasks in-process.
type Utility struct {
	*base
}

// Handle runs one local-call task and advances the main chain.
func (h *Utility) Handle(ctx context.Context, req *dispatch.Request) error {
	ctx, span := h.startSpan(ctx, req)
	failure := ""
	defer func() { endSpan(span, failure) }()

	start := time.Now()
	c, cfg := req.Context, req.Task
	log := h.taskLogger(req)
	task := c.EnsureTask(cfg)

	input, err := h.resolveInput(req)
	if err != nil {
		failure = err.Error()
		h.metrics.RecordTaskExecution(string(cfg.Type), "failed", time.Since(start))
		return h.failMainTask(ctx, req, task, nil, "", failure, log)
	}

	if err := task.Start(input); err != nil {
		log.Warn("task cannot be started", "status", string(task.Status), "error", err)
		return nil
	}
	c.UpdateCurrentTask(task)
	if err := h.engine.Persist(ctx, c); err != nil {
		return err
	}
	log.Debug("local task started", "function", cfg.Function)

	result, reason := h.runFunction(ctx, cfg.Function, input)
	if reason != "" {
		failure = reason
		h.metrics.RecordTaskExecution(string(cfg.Type), "failed", time.Since(start))
		return h.failMainTask(ctx, req, task, resultOutput(result), resultMessage(result), reason, log)
	}

	if err := task.Complete(resultOutput(result), result.Message); err != nil {
		log.Warn("task already finished", "error", err)
		return nil
	}
	c.UpdateCurrentTask(task)
	h.metrics.RecordTaskExecution(string(cfg.Type), "completed", time.Since(start))

	if result.Terminate {
		log.Info("workflow terminated early by local task", "message", result.Message)
		return h.engine.CompleteWorkflow(ctx, req.Workflow, c)
	}

	if err := h.engine.Persist(ctx, c); err != nil {
		return err
	}
	log.Debug("local task completed")
	return h.engine.ExecuteNextTask(ctx, req.Workflow, cfg, c)
}

var _ dispatch.Handler = (*Utility)(nil)
