package orchestrator

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "conductor.orchestrator"

const (
	spanWorkflowStart    = "conductor.workflow.start"
	spanResponseHandle   = "conductor.response.handle"
	spanDeadLetterHandle = "conductor.deadletter.handle"
	spanMessagePublish   = "conductor.message.publish"
)

func orchestratorTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
