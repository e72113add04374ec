package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/conductor/pkg/broker"
)

// PublishMessage sends msg to topic. The current trace context is added to
// the message attributes so the peer can continue the trace.
func (s *Service) PublishMessage(ctx context.Context, topic string, msg *broker.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	ctx, span := s.tracer.Start(ctx, spanMessagePublish,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.message.id", msg.MessageID),
			attribute.String("conductor.message_type", msg.MessageType),
		),
	)
	defer span.End()

	t, err := s.topic(ctx, topic)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if msg.Attributes == nil {
		msg.Attributes = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Attributes))

	if err := t.Publish(ctx, msg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// topic returns the cached handle for name, resolving it on first use.
// Concurrent first uses may both resolve; the first stored handle wins.
func (s *Service) topic(ctx context.Context, name string) (broker.Topic, error) {
	s.topicsMu.RLock()
	t, ok := s.topics[name]
	s.topicsMu.RUnlock()
	if ok {
		return t, nil
	}

	resolved, err := s.transport.Topic(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve topic %s: %w", name, err)
	}

	s.topicsMu.Lock()
	defer s.topicsMu.Unlock()
	if existing, ok := s.topics[name]; ok {
		return existing, nil
	}
	s.topics[name] = resolved
	return resolved, nil
}
