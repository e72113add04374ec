// Package handlers implements the lifecycle of each task shape: local calls,
// remote calls and exception-chain steps.
//
// Every handler follows the same steps. It fetches or creates the task
// record, resolves input_params, marks the task started and persists, acts,
// records the outcome and persists again, then either advances the chain or
// hands over to the exception chain. Task failures never escape a handler;
// the only errors returned are persistence or advancement failures.
package handlers

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/conductor/pkg/broker"
	"github.com/goclaw/conductor/pkg/definition"
	"github.com/goclaw/conductor/pkg/dispatch"
	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/functions"
	"github.com/goclaw/conductor/pkg/logger"
	"github.com/goclaw/conductor/pkg/mapper"
)

const tracerName = "conductor.handlers"

// Engine is the part of the orchestrator the handlers call back into.
type Engine interface {
	Persist(ctx context.Context, c *execution.Context) error
	ExecuteNextTask(ctx context.Context, wf *definition.WorkflowConfig, task *definition.TaskConfig, c *execution.Context) error
	CompleteWorkflow(ctx context.Context, wf *definition.WorkflowConfig, c *execution.Context) error
	ExecuteExceptionTasks(ctx context.Context, wf *definition.WorkflowConfig, c *execution.Context) error
	ExecuteNextExceptionTask(ctx context.Context, wf *definition.WorkflowConfig, task *definition.TaskConfig, c *execution.Context) error
	PublishMessage(ctx context.Context, topic string, msg *broker.Message) error
}

// MetricsRecorder records task outcomes.
type MetricsRecorder interface {
	RecordTaskExecution(taskType, status string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordTaskExecution(taskType, status string, duration time.Duration) {}

// Option configures the handlers built by Register.
type Option func(*base)

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the task metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(b *base) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithMapper overrides the property mapper.
func WithMapper(m *mapper.Mapper) Option {
	return func(b *base) {
		if m != nil {
			b.mapper = m
		}
	}
}

type base struct {
	engine    Engine
	functions *functions.Registry
	mapper    *mapper.Mapper
	logger    logger.Logger
	metrics   MetricsRecorder
	tracer    trace.Tracer
}

func newBase(engine Engine, registry *functions.Registry, opts ...Option) *base {
	b := &base{
		engine:    engine,
		functions: registry,
		mapper:    mapper.New(),
		logger:    logger.Global(),
		metrics:   nopMetrics{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register builds the three handlers and attaches each to its channel.
func Register(d *dispatch.Dispatcher, engine Engine, registry *functions.Registry, opts ...Option) error {
	b := newBase(engine, registry, opts...)
	if err := d.Register(definition.TaskTypeLocalCall, &Utility{base: b}); err != nil {
		return err
	}
	if err := d.Register(definition.TaskTypeRemoteCall, &Event{base: b}); err != nil {
		return err
	}
	return d.Register(definition.TaskTypeExceptionStep, &Exception{base: b})
}

func (b *base) taskLogger(req *dispatch.Request) logger.Logger {
	return b.logger.With(
		"execution_id", req.Context.ExecutionID,
		"workflow", req.Workflow.Name,
		"task", req.Task.TaskReferenceName,
		"task_type", string(req.Task.Type),
	)
}

func (b *base) startSpan(ctx context.Context, req *dispatch.Request) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "conductor.task."+string(req.Task.Type),
		trace.WithAttributes(
			attribute.String("execution.id", req.Context.ExecutionID),
			attribute.String("workflow.name", req.Workflow.Name),
			attribute.String("task.reference", req.Task.TaskReferenceName),
		),
	)
}

func endSpan(span trace.Span, failure string) {
	if failure != "" {
		span.SetStatus(codes.Error, failure)
	}
	span.End()
}

// resolveInput maps input_params against the execution scope.
func (b *base) resolveInput(req *dispatch.Request) (map[string]any, error) {
	input, err := b.mapper.MapObject(req.Task.InputParams, req.Context.Scope())
	if err != nil {
		return nil, fmt.Errorf("input mapping failed: %w", err)
	}
	return input, nil
}

// failMainTask records a main-chain failure on the task and the execution,
// persists it and runs the exception chain.
func (b *base) failMainTask(ctx context.Context, req *dispatch.Request, task *execution.Task, output any, message, reason string, log logger.Logger) error {
	c := req.Context
	if err := task.FailWithOutput(output, message, reason); err != nil {
		log.Warn("task already finished, recording failure on execution only", "error", err)
	}
	c.UpdateCurrentTask(task)
	if err := c.Fail(reason); err != nil {
		log.Warn("execution already finished", "status", string(c.Status), "error", err)
		c.RecordError(reason)
	}
	log.Warn("task failed", "reason", reason)

	if err := b.engine.Persist(ctx, c); err != nil {
		return err
	}
	return b.engine.ExecuteExceptionTasks(ctx, req.Workflow, c)
}

// runFunction invokes the configured local function and converts every kind
// of failure into a reason string.
func (b *base) runFunction(ctx context.Context, name string, input map[string]any) (*functions.Result, string) {
	result, err := b.functions.Invoke(ctx, name, input)
	if err != nil {
		return nil, err.Error()
	}
	if !result.Success {
		reason := result.Message
		if reason == "" {
			reason = fmt.Sprintf("local function %s reported failure", name)
		}
		return result, reason
	}
	return result, ""
}

func resultOutput(result *functions.Result) any {
	if result == nil || result.Output == nil {
		return nil
	}
	return result.Output
}

func resultMessage(result *functions.Result) string {
	if result == nil {
		return ""
	}
	return result.Message
}
