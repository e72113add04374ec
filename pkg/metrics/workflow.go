package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initWorkflowMetrics initializes workflow execution metrics.
func (m *Manager) initWorkflowMetrics(cfg Config) {
	m.workflowsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "workflows_started_total",
			Help:      "Total number of workflow executions started",
		},
		[]string{"workflow"},
	)

	m.workflowsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "workflows_finished_total",
			Help:      "Total number of workflow executions that reached a terminal status",
		},
		[]string{"workflow", "status"},
	)

	m.workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Time from start to terminal status in seconds",
			Buckets:   cfg.WorkflowDurationBuckets,
		},
		[]string{"workflow", "status"},
	)

	m.workflowsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "workflows_active",
			Help:      "Executions started by this process that have not finished",
		},
		[]string{"workflow"},
	)

	m.registry.MustRegister(m.workflowsStarted)
	m.registry.MustRegister(m.workflowsFinished)
	m.registry.MustRegister(m.workflowDuration)
	m.registry.MustRegister(m.workflowsActive)
}

// RecordWorkflowStarted records a new execution.
func (m *Manager) RecordWorkflowStarted(workflow string) {
	if !m.enabled {
		return
	}
	m.workflowsStarted.WithLabelValues(workflow).Inc()
	m.workflowsActive.WithLabelValues(workflow).Inc()
}

// RecordWorkflowFinished records an execution reaching a terminal status.
// Executions resumed by another process may finish here without having
// started here, so the active gauge can dip below zero per process; sum it
// across instances.
func (m *Manager) RecordWorkflowFinished(workflow, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.workflowsFinished.WithLabelValues(workflow, status).Inc()
	m.workflowDuration.WithLabelValues(workflow, status).Observe(duration.Seconds())
	m.workflowsActive.WithLabelValues(workflow).Dec()
}
