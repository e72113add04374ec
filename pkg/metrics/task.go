package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initTaskMetrics initializes task handler metrics.
func (m *Manager) initTaskMetrics(cfg Config) {
	m.taskExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_executions_total",
			Help:      "Total number of task handler runs by task type and status",
		},
		[]string{"type", "status"},
	)

	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "task_duration_seconds",
			Help:      "Task handler duration in seconds",
			Buckets:   cfg.TaskDurationBuckets,
		},
		[]string{"type"},
	)

	m.registry.MustRegister(m.taskExecutions)
	m.registry.MustRegister(m.taskDuration)
}

// RecordTaskExecution records one task handler run. For remote calls the
// duration covers publishing the request, not the peer's work.
func (m *Manager) RecordTaskExecution(taskType, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.taskExecutions.WithLabelValues(taskType, status).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}
