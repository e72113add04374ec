package orchestrator

import (
	"time"

	"github.com/goclaw/conductor/pkg/handlers"
)

// MetricsRecorder records workflow, task and inbound message activity.
type MetricsRecorder interface {
	handlers.MetricsRecorder
	RecordWorkflowStarted(workflow string)
	RecordWorkflowFinished(workflow, status string, duration time.Duration)
	RecordResponse(kind, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) RecordTaskExecution(taskType, status string, duration time.Duration)    {}
func (nopMetrics) RecordWorkflowStarted(workflow string)                                  {}
func (nopMetrics) RecordWorkflowFinished(workflow, status string, duration time.Duration) {}
func (nopMetrics) RecordResponse(kind, outcome string)                                    {}

const (
	responseKindNormal     = "response"
	responseKindDeadLetter = "dead_letter"

	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeAbandoned = "abandoned"
	outcomeDropped   = "dropped"
	outcomeError     = "error"
)
