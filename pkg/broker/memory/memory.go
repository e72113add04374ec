// Package memory provides an in-process broker transport.
//
// Delivery is synchronous: Publish invokes every subscription's handler in the
// caller's goroutine. A handler error triggers immediate redelivery; after
// MaxDeliveries failed attempts the message moves to the subscription's
// dead-letter feed.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goclaw/conductor/pkg/broker"
	"github.com/goclaw/conductor/pkg/logger"
)

const transportName = "memory"

// Config holds configuration for Transport.
type Config struct {
	MaxDeliveries    int
	DeadLetterSuffix string
}

// DefaultConfig returns the defaults used when nil is passed to New.
func DefaultConfig() *Config {
	return &Config{
		MaxDeliveries:    3,
		DeadLetterSuffix: broker.DefaultDeadLetterSuffix,
	}
}

// Transport is an in-memory broker.Transport.
type Transport struct {
	config *Config
	logger logger.Logger

	mu     sync.RWMutex
	subs   map[string]map[string]*subscription // topic -> subscription -> handler
	topics map[string]*topic
	closed bool
}

type topic struct {
	name      string
	transport *Transport
}

type subscription struct {
	topicName string
	name      string
	handler   broker.Handler
	transport *Transport
	once      sync.Once
}

// New creates an in-memory transport.
func New(cfg *Config, log logger.Logger) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 1
	}
	if cfg.DeadLetterSuffix == "" {
		cfg.DeadLetterSuffix = broker.DefaultDeadLetterSuffix
	}
	if log == nil {
		log = logger.Global()
	}
	return &Transport{
		config: cfg,
		logger: log.With("component", "broker", "transport", transportName),
		subs:   make(map[string]map[string]*subscription),
		topics: make(map[string]*topic),
	}
}

// Topic returns the publish handle for name.
func (t *Transport) Topic(ctx context.Context, name string) (broker.Topic, error) {
	if name == "" {
		return nil, fmt.Errorf("broker: topic name cannot be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, broker.ErrTransportClosed
	}
	if tp, ok := t.topics[name]; ok {
		return tp, nil
	}
	tp := &topic{name: name, transport: t}
	t.topics[name] = tp
	return tp, nil
}

// Subscribe attaches h to the subscription on topic.
func (t *Transport) Subscribe(ctx context.Context, topicName, name string, h broker.Handler) (broker.Subscription, error) {
	if topicName == "" || name == "" {
		return nil, fmt.Errorf("broker: topic and subscription are required")
	}
	if h == nil {
		return nil, fmt.Errorf("broker: handler cannot be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, broker.ErrTransportClosed
	}
	if _, ok := t.subs[topicName]; !ok {
		t.subs[topicName] = make(map[string]*subscription)
	}
	if _, exists := t.subs[topicName][name]; exists {
		return nil, fmt.Errorf("%w: %s/%s", broker.ErrAlreadySubscribed, topicName, name)
	}
	sub := &subscription{topicName: topicName, name: name, handler: h, transport: t}
	t.subs[topicName][name] = sub
	return sub, nil
}

// DeadLetter moves msg straight to the dead-letter feed of subscription, as a
// broker does when a message lock expires.
func (t *Transport) DeadLetter(ctx context.Context, topicName, subscription string, msg *broker.Message) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return broker.ErrTransportClosed
	}
	t.deadLetter(ctx, topicName, subscription, msg)
	return nil
}

// Close detaches every subscription.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = make(map[string]map[string]*subscription)
	return nil
}

func (t *Transport) isDeadLetter(name string) bool {
	return strings.HasSuffix(name, t.config.DeadLetterSuffix)
}

// targets returns the normal subscriptions of topicName.
func (t *Transport) targets(topicName string) []*subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*subscription
	for name, sub := range t.subs[topicName] {
		if t.isDeadLetter(name) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func (t *Transport) lookup(topicName, name string) (*subscription, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sub, ok := t.subs[topicName][name]
	return sub, ok
}

func (t *Transport) deliver(ctx context.Context, sub *subscription, msg *broker.Message) {
	var lastErr error
	for attempt := 1; attempt <= t.config.MaxDeliveries; attempt++ {
		lastErr = sub.handler(ctx, msg.Clone())
		if lastErr == nil {
			broker.Metrics().RecordMessageDelivered(transportName, sub.topicName, sub.name, "ack")
			return
		}
		broker.Metrics().RecordMessageDelivered(transportName, sub.topicName, sub.name, "retry")
		t.logger.Warn("message handler failed",
			"topic", sub.topicName,
			"subscription", sub.name,
			"message_id", msg.MessageID,
			"attempt", attempt,
			"error", lastErr,
		)
	}

	if t.isDeadLetter(sub.name) {
		t.logger.Error("dropping message after dead-letter handler failures",
			"topic", sub.topicName, "subscription", sub.name, "message_id", msg.MessageID, "error", lastErr)
		return
	}
	t.deadLetter(ctx, sub.topicName, sub.name, msg)
}

func (t *Transport) deadLetter(ctx context.Context, topicName, subscription string, msg *broker.Message) {
	broker.Metrics().RecordMessageDeadLettered(transportName, topicName, subscription)
	dlq := broker.DeadLetterSubscription(subscription, t.config.DeadLetterSuffix)
	sub, ok := t.lookup(topicName, dlq)
	if !ok {
		t.logger.Warn("dead-lettered message has no consumer",
			"topic", topicName, "subscription", dlq, "message_id", msg.MessageID)
		return
	}
	t.deliver(ctx, sub, msg)
}

func (tp *topic) Name() string {
	return tp.name
}

// Publish delivers msg to every normal subscription of the topic.
func (tp *topic) Publish(ctx context.Context, msg *broker.Message) error {
	if msg == nil {
		return fmt.Errorf("broker: message cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tp.transport.mu.RLock()
	closed := tp.transport.closed
	tp.transport.mu.RUnlock()
	if closed {
		return broker.ErrTransportClosed
	}

	broker.Metrics().RecordMessagePublished(transportName, tp.name)
	for _, sub := range tp.transport.targets(tp.name) {
		tp.transport.deliver(ctx, sub, msg)
	}
	return nil
}

func (s *subscription) Topic() string {
	return s.topicName
}

func (s *subscription) Name() string {
	return s.name
}

// Close detaches the handler.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.transport.mu.Lock()
		defer s.transport.mu.Unlock()
		if subs, ok := s.transport.subs[s.topicName]; ok && subs[s.name] == s {
			delete(subs, s.name)
		}
	})
	return nil
}
