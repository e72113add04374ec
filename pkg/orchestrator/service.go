// Package orchestrator is the entry point of the workflow engine. It starts
// executions, advances them through their task chains and correlates broker
// responses and dead-letter deliveries back to the waiting task.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/conductor/pkg/broker"
	"github.com/goclaw/conductor/pkg/definition"
	"github.com/goclaw/conductor/pkg/dispatch"
	"github.com/goclaw/conductor/pkg/functions"
	"github.com/goclaw/conductor/pkg/handlers"
	"github.com/goclaw/conductor/pkg/logger"
	"github.com/goclaw/conductor/pkg/mapper"
	"github.com/goclaw/conductor/pkg/storage"
)

// Service owns the loaded definitions, the task dispatcher and the broker
// subscriptions. It keeps no execution state of its own; every call works on
// a context fetched from the store.
type Service struct {
	definitions *definition.Definitions
	store       storage.Store
	transport   broker.Transport
	dispatcher  *dispatch.Dispatcher
	functions   *functions.Registry
	mapper      *mapper.Mapper
	logger      logger.Logger
	metrics     MetricsRecorder
	tracer      trace.Tracer

	defaultSubscription string
	deadLetterSuffix    string

	topicsMu sync.RWMutex
	topics   map[string]broker.Topic

	mu            sync.Mutex
	started       bool
	subscriptions []broker.Subscription
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMapper overrides the property mapper.
func WithMapper(m *mapper.Mapper) Option {
	return func(s *Service) {
		if m != nil {
			s.mapper = m
		}
	}
}

// WithDefaultSubscription sets the subscription whose dead-letter feed is
// watched on every remote-call topic.
func WithDefaultSubscription(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.defaultSubscription = name
		}
	}
}

// WithDeadLetterSuffix sets the suffix that addresses dead-letter feeds.
func WithDeadLetterSuffix(suffix string) Option {
	return func(s *Service) {
		if suffix != "" {
			s.deadLetterSuffix = suffix
		}
	}
}

// New creates a Service and registers the task handlers with its dispatcher.
func New(defs *definition.Definitions, store storage.Store, transport broker.Transport, registry *functions.Registry, opts ...Option) (*Service, error) {
	if defs == nil {
		return nil, fmt.Errorf("definitions cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("function registry cannot be nil")
	}

	s := &Service{
		definitions:         defs,
		store:               store,
		transport:           transport,
		dispatcher:          dispatch.New(),
		functions:           registry,
		mapper:              mapper.New(),
		logger:              logger.Global(),
		metrics:             nopMetrics{},
		tracer:              orchestratorTracer(),
		defaultSubscription: broker.DefaultSubscription,
		deadLetterSuffix:    broker.DefaultDeadLetterSuffix,
		topics:              make(map[string]broker.Topic),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "orchestrator")

	if err := handlers.Register(s.dispatcher, s, registry,
		handlers.WithLogger(s.logger),
		handlers.WithMetrics(s.metrics),
		handlers.WithMapper(s.mapper),
	); err != nil {
		return nil, fmt.Errorf("register task handlers: %w", err)
	}
	return s, nil
}

// Definitions returns the loaded workflow definitions.
func (s *Service) Definitions() *definition.Definitions {
	return s.definitions
}

// Validate checks that task references are unique within every workflow and
// that every local function a task names is registered.
func (s *Service) Validate() error {
	if err := s.definitions.ValidateTaskReferences(); err != nil {
		return fmt.Errorf("invalid workflow definitions: %w", err)
	}
	registered := func(name string) bool {
		_, ok := s.functions.Lookup(name)
		return ok
	}
	if err := s.definitions.ValidateFunctions(registered); err != nil {
		return fmt.Errorf("invalid workflow definitions: %w", err)
	}
	return nil
}

// Start validates the definitions and attaches the inbound handlers: one
// subscription per declared Subscription for responses and one dead-letter
// subscription per distinct remote-call topic.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.Validate(); err != nil {
		return err
	}

	var subs []broker.Subscription
	rollback := func() {
		for _, sub := range subs {
			_ = sub.Close()
		}
	}

	for _, decl := range s.definitions.Subscriptions {
		sub, err := s.transport.Subscribe(ctx, decl.Topic, decl.Subscription, s.HandleMessage)
		if err != nil {
			rollback()
			return fmt.Errorf("subscribe %s/%s: %w", decl.Topic, decl.Subscription, err)
		}
		subs = append(subs, sub)
		s.logger.Info("subscribed for responses", "topic", decl.Topic, "subscription", decl.Subscription)
	}

	deadLetter := broker.DeadLetterSubscription(s.defaultSubscription, s.deadLetterSuffix)
	for _, topic := range s.definitions.RemoteTopics() {
		sub, err := s.transport.Subscribe(ctx, topic, deadLetter, s.HandleDeadLetter)
		if err != nil {
			rollback()
			return fmt.Errorf("subscribe %s/%s: %w", topic, deadLetter, err)
		}
		subs = append(subs, sub)
		s.logger.Info("subscribed for dead letters", "topic", topic, "subscription", deadLetter)
	}

	s.subscriptions = subs
	s.started = true
	s.logger.Info("orchestrator started",
		"workflows", len(s.definitions.Workflows),
		"subscriptions", len(subs),
	)
	return nil
}

// Started reports whether Start attached the inbound handlers.
func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Close detaches every subscription. The transport and store stay open; they
// belong to the caller.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, sub := range s.subscriptions {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close subscription %s/%s: %w", sub.Topic(), sub.Name(), err)
		}
	}
	s.subscriptions = nil
	s.started = false
	return firstErr
}

var _ handlers.Engine = (*Service)(nil)
