package broker

import "sync"

// MetricsRecorder records transport activity.
type MetricsRecorder interface {
	RecordMessagePublished(transport, topic string)
	RecordMessageDelivered(transport, topic, subscription, outcome string)
	RecordMessageDeadLettered(transport, topic, subscription string)
}

type nopMetrics struct{}

func (n *nopMetrics) RecordMessagePublished(transport, topic string)                        {}
func (n *nopMetrics) RecordMessageDelivered(transport, topic, subscription, outcome string) {}
func (n *nopMetrics) RecordMessageDeadLettered(transport, topic, subscription string)       {}

var (
	metricsMu sync.RWMutex
	metrics   MetricsRecorder = &nopMetrics{}
)

// SetMetricsRecorder installs the recorder used by every transport.
func SetMetricsRecorder(recorder MetricsRecorder) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if recorder == nil {
		metrics = &nopMetrics{}
		return
	}
	metrics = recorder
}

// Metrics returns the installed recorder.
func Metrics() MetricsRecorder {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metrics
}
