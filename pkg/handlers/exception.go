package handlers

import (
	"context"
	"time"

	"github.com/goclaw/conductor/pkg/dispatch"
	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/logger"
)

// Exception runs exception-chain steps. A failing step ends the chain; there
// is no retry and no further escalation. The current-task pointer keeps
// naming the main-chain task that caused the exception.
type Exception struct {
	*base
}

// Handle runs one exception step and advances the exception chain.
func (h *Exception) Handle(ctx context.Context, req *dispatch.Request) error {
	ctx, span := h.startSpan(ctx, req)
	failure := ""
	defer func() { endSpan(span, failure) }()

	start := time.Now()
	c, cfg := req.Context, req.Task
	log := h.taskLogger(req)
	task := c.EnsureExceptionTask(cfg)

	input, err := h.resolveInput(req)
	if err != nil {
		failure = err.Error()
		h.metrics.RecordTaskExecution(string(cfg.Type), "failed", time.Since(start))
		return h.stopChain(ctx, c, task, nil, "", failure, log)
	}

	if c.Status == execution.StatusAbandoned {
		input["status"] = string(execution.StatusAbandoned)
		input["message"] = c.CurrentTaskError
	}

	if err := task.Start(input); err != nil {
		log.Warn("exception task cannot be started", "status", string(task.Status), "error", err)
		return nil
	}
	if err := h.engine.Persist(ctx, c); err != nil {
		return err
	}

	result, reason := h.runFunction(ctx, cfg.Function, input)
	if reason != "" {
		failure = reason
		h.metrics.RecordTaskExecution(string(cfg.Type), "failed", time.Since(start))
		return h.stopChain(ctx, c, task, resultOutput(result), resultMessage(result), reason, log)
	}

	if err := task.Complete(resultOutput(result), result.Message); err != nil {
		log.Warn("exception task already finished", "error", err)
		return nil
	}
	h.metrics.RecordTaskExecution(string(cfg.Type), "completed", time.Since(start))
	if err := h.engine.Persist(ctx, c); err != nil {
		return err
	}

	if result.Terminate {
		log.Info("exception chain stopped by task", "message", result.Message)
		return nil
	}
	return h.engine.ExecuteNextExceptionTask(ctx, req.Workflow, cfg, c)
}

// stopChain records an exception-step failure and ends the chain.
func (h *Exception) stopChain(ctx context.Context, c *execution.Context, task *execution.Task, output any, message, reason string, log logger.Logger) error {
	if err := task.FailWithOutput(output, message, reason); err != nil {
		log.Error("exception task already finished", "error", err)
	}
	c.RecordError(reason)
	log.Error("exception task failed, chain stopped", "reason", reason)
	return h.engine.Persist(ctx, c)
}

var _ dispatch.Handler = (*Exception)(nil)
