package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initBrokerMetrics() {
	m.responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "responses_total",
			Help:      "Inbound remote-call responses and dead letters by outcome",
		},
		[]string{"kind", "outcome"},
	)

	m.messagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "broker_messages_published_total",
			Help:      "Messages published to a topic",
		},
		[]string{"transport", "topic"},
	)

	m.messagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "broker_messages_delivered_total",
			Help:      "Message deliveries to a subscription handler by outcome",
		},
		[]string{"transport", "topic", "subscription", "outcome"},
	)

	m.messagesDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "broker_messages_dead_lettered_total",
			Help:      "Messages moved to a dead-letter feed after exhausting deliveries",
		},
		[]string{"transport", "topic", "subscription"},
	)

	m.registry.MustRegister(m.responses)
	m.registry.MustRegister(m.messagesPublished)
	m.registry.MustRegister(m.messagesDelivered)
	m.registry.MustRegister(m.messagesDeadLettered)
}

// RecordResponse records how an inbound response or dead letter was handled.
func (m *Manager) RecordResponse(kind, outcome string) {
	if !m.enabled {
		return
	}
	m.responses.WithLabelValues(kind, outcome).Inc()
}

func (m *Manager) RecordMessagePublished(transport, topic string) {
	if !m.enabled {
		return
	}
	m.messagesPublished.WithLabelValues(transport, topic).Inc()
}

func (m *Manager) RecordMessageDelivered(transport, topic, subscription, outcome string) {
	if !m.enabled {
		return
	}
	m.messagesDelivered.WithLabelValues(transport, topic, subscription, outcome).Inc()
}

func (m *Manager) RecordMessageDeadLettered(transport, topic, subscription string) {
	if !m.enabled {
		return
	}
	m.messagesDeadLettered.WithLabelValues(transport, topic, subscription).Inc()
}
