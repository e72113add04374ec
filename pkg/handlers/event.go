package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/goclaw/conductor/pkg/broker"
	"github.com/goclaw/conductor/pkg/dispatch"
)

// Event runs remote-call tasks: it publishes the request and returns. The
// chain resumes when the orchestrator receives the matching response or a
// dead-letter notification.
type Event struct {
	*base
}

// Handle publishes one remote-call request.
func (h *Event) Handle(ctx context.Context, req *dispatch.Request) error {
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
	// The started state must be durable before a response can arrive.
	if err := h.engine.Persist(ctx, c); err != nil {
		return err
	}

	msg := &broker.Message{
		MessageID:   c.ExecutionID,
		MessageType: broker.MessageType(req.Workflow.Name, cfg.TaskReferenceName),
		Data:        input,
		Attributes:  copyAttributes(cfg.Attributes),
	}
	if err := h.engine.PublishMessage(ctx, cfg.Topic, msg); err != nil {
		failure = fmt.Sprintf("failed to publish to %s: %v", cfg.Topic, err)
		h.metrics.RecordTaskExecution(string(cfg.Type), "failed", time.Since(start))
		return h.failMainTask(ctx, req, task, nil, "", failure, log)
	}

	h.metrics.RecordTaskExecution(string(cfg.Type), "published", time.Since(start))
	log.Info("remote task published", "topic", cfg.Topic, "message_type", msg.MessageType)
	return nil
}

func copyAttributes(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

var _ dispatch.Handler = (*Event)(nil)
