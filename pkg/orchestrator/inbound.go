package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/conductor/pkg/broker"
	"github.com/goclaw/conductor/pkg/definition"
	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/logger"
	"github.com/goclaw/conductor/pkg/storage"
)

// HandleMessage resumes the execution named by msg.MessageID with a peer's
// response to the remote-call task named by msg.MessageType.
//
// Messages that cannot be correlated are logged and dropped. The only error
// returned is a store failure, so the transport redelivers.
func (s *Service) HandleMessage(ctx context.Context, msg *broker.Message) error {
	return s.handleResponse(ctx, msg, false)
}

// HandleDeadLetter treats a dead-lettered remote-call request as an
// abandonment: the task fails, the execution becomes ABANDONED and the
// exception chain runs.
func (s *Service) HandleDeadLetter(ctx context.Context, msg *broker.Message) error {
	return s.handleResponse(ctx, msg, true)
}

// inbound is one correlated response being applied to its execution.
type inbound struct {
	workflow   *definition.WorkflowConfig
	config     *definition.TaskConfig
	task       *execution.Task
	context    *execution.Context
	data       map[string]any
	deadLetter bool
	log        logger.Logger
}

func (s *Service) handleResponse(ctx context.Context, msg *broker.Message, deadLetter bool) (err error) {
	if msg == nil {
		return nil
	}

	kind, spanName := responseKindNormal, spanResponseHandle
	if deadLetter {
		kind, spanName = responseKindDeadLetter, spanDeadLetterHandle
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Attributes))
	ctx, span := s.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", msg.MessageID),
			attribute.String("conductor.message_type", msg.MessageType),
		),
	)
	defer span.End()

	log := s.logger.With("message_id", msg.MessageID, "message_type", msg.MessageType, "kind", kind)
	drop := func(reason string, args ...any) error {
		log.Warn("dropping message: "+reason, args...)
		s.metrics.RecordResponse(kind, outcomeDropped)
		return nil
	}

	workflowName, ref, err := broker.ParseMessageType(msg.MessageType)
	if err != nil {
		return drop("malformed message type", "error", err)
	}
	wf, ok := s.definitions.GetWorkflowByName(workflowName)
	if !ok {
		return drop("unknown workflow", "workflow", workflowName)
	}
	cfg, ok := wf.TaskByReference(ref)
	if !ok || cfg.Type != definition.TaskTypeRemoteCall {
		return drop("no remote-call task with this reference", "workflow", workflowName, "task", ref)
	}

	c, err := s.store.Fetch(ctx, msg.MessageID)
	if err != nil {
		if storage.IsNotFound(err) {
			return drop("unknown execution")
		}
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordResponse(kind, outcomeError)
		log.Error("failed to load execution", "error", err)
		return fmt.Errorf("fetch execution %s: %w", msg.MessageID, err)
	}

	log = logger.ForExecution(log, c.ExecutionID, wf.Name).With("task", ref)
	if c.IsTerminal() {
		return drop("execution already finished", "status", string(c.Status))
	}
	task, ok := c.Tasks[ref]
	if !ok || task.Status != execution.StatusRunning {
		return drop("no outstanding request for task")
	}

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("response handling panicked: %v", r)
			log.Error("recovered panic while handling response", "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, reason)
			s.metrics.RecordResponse(kind, outcomeError)
			err = s.failAfterPanic(ctx, wf, c, reason)
		}
	}()

	in := &inbound{
		workflow:   wf,
		config:     cfg,
		task:       task,
		context:    c,
		data:       responseData(msg.Data),
		deadLetter: deadLetter,
		log:        log,
	}
	if err := s.applyResponse(ctx, kind, in); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Service) applyResponse(ctx context.Context, kind string, in *inbound) error {
	c, cfg := in.context, in.config

	abandonReason := ""
	if in.deadLetter {
		abandonReason = "abandoned during " + cfg.Label()
		in.data["success"] = false
		in.data["abandoned"] = true
		if _, ok := in.data["message"]; !ok {
			in.data["message"] = abandonReason
		}
	}

	scope := c.Scope()
	scope["response"] = in.data

	output := in.data
	if cfg.OutputParams != nil {
		mapped, err := s.mapper.MapObject(cfg.OutputParams, scope)
		if err != nil {
			reason := fmt.Sprintf("output mapping failed: %v", err)
			if in.deadLetter {
				in.log.Warn("output mapping failed for dead letter", "error", err)
				s.metrics.RecordResponse(kind, outcomeAbandoned)
				return s.failRemoteTask(ctx, in, nil, "", abandonReason)
			}
			s.metrics.RecordResponse(kind, outcomeFailed)
			return s.failRemoteTask(ctx, in, nil, "", reason)
		}
		output = mapped
	}

	success, message := responseOutcome(output, in.data)
	switch {
	case in.deadLetter:
		in.log.Warn("remote task abandoned", "message", message)
		s.metrics.RecordResponse(kind, outcomeAbandoned)
		return s.failRemoteTask(ctx, in, output, message, abandonReason)

	case success:
		if err := in.task.Complete(output, message); err != nil {
			in.log.Warn("task already finished", "error", err)
			return nil
		}
		c.UpdateCurrentTask(in.task)
		if err := s.Persist(ctx, c); err != nil {
			return err
		}
		s.metrics.RecordResponse(kind, outcomeCompleted)
		in.log.Info("remote task completed", "message", message)
		return s.ExecuteNextTask(ctx, in.workflow, cfg, c)

	default:
		reason := message
		if reason == "" {
			reason = fmt.Sprintf("remote task %s reported failure", cfg.TaskReferenceName)
		}
		s.metrics.RecordResponse(kind, outcomeFailed)
		in.log.Warn("remote task failed", "reason", reason)
		return s.failRemoteTask(ctx, in, output, message, reason)
	}
}

// failRemoteTask records the failure on the task and the execution and runs
// the exception chain. Dead letters leave both ABANDONED, anything else FAILED.
func (s *Service) failRemoteTask(ctx context.Context, in *inbound, output any, message, reason string) error {
	c := in.context
	var taskErr error
	if in.deadLetter {
		taskErr = in.task.Abandon(output, reason)
	} else {
		taskErr = in.task.FailWithOutput(output, message, reason)
	}
	if taskErr != nil {
		in.log.Warn("task already finished", "error", taskErr)
	}
	c.UpdateCurrentTask(in.task)

	var err error
	if in.deadLetter {
		err = c.Abandon(reason)
	} else {
		err = c.Fail(reason)
	}
	if err != nil {
		in.log.Warn("execution already finished", "status", string(c.Status), "error", err)
		c.RecordError(reason)
	}

	if err := s.Persist(ctx, c); err != nil {
		return err
	}
	return s.ExecuteExceptionTasks(ctx, in.workflow, c)
}

// failAfterPanic makes sure a panic while applying a response still leaves
// a persisted failure behind.
func (s *Service) failAfterPanic(ctx context.Context, wf *definition.WorkflowConfig, c *execution.Context, reason string) error {
	if c.IsTerminal() {
		c.RecordError(reason)
		return s.Persist(ctx, c)
	}
	if err := c.Fail(reason); err != nil {
		c.RecordError(reason)
	}
	if err := s.Persist(ctx, c); err != nil {
		return err
	}
	return s.ExecuteExceptionTasks(ctx, wf, c)
}

func responseData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+3)
	for k, v := range data {
		out[k] = v
	}
	return out
}

// responseOutcome reads the success flag and message from the mapped output,
// falling back to the raw response. A missing success flag counts as failure.
func responseOutcome(output, data map[string]any) (bool, string) {
	success, ok := boolValue(output["success"])
	if !ok {
		success, _ = boolValue(data["success"])
	}
	message, _ := output["message"].(string)
	if message == "" {
		message, _ = data["message"].(string)
	}
	return success, message
}

func boolValue(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(val)
		return b, err == nil
	default:
		return false, false
	}
}
