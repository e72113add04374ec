// Package redis provides a broker transport on Redis Streams.
//
// Every topic is a stream and every subscription a consumer group on it.
// Entries are acknowledged when the handler succeeds. Entries left pending
// longer than LockDuration are reclaimed and redelivered; once an entry has
// been delivered MaxDeliveries times it is copied to the subscription's
// dead-letter stream and acknowledged.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goclaw/conductor/pkg/broker"
	"github.com/goclaw/conductor/pkg/logger"
)

const (
	transportName = "redis"
	payloadField  = "payload"
)

// Config holds configuration for Transport.
type Config struct {
	StreamPrefix     string
	Consumer         string
	DeadLetterSuffix string
	BlockTimeout     time.Duration
	LockDuration     time.Duration
	MaxDeliveries    int
	BatchSize        int64
	MaxLen           int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	host, _ := os.Hostname()
	return &Config{
		StreamPrefix:     "conductor:stream:",
		Consumer:         fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		DeadLetterSuffix: broker.DefaultDeadLetterSuffix,
		BlockTimeout:     2 * time.Second,
		LockDuration:     30 * time.Second,
		MaxDeliveries:    10,
		BatchSize:        16,
		MaxLen:           100000,
	}
}

// Transport is a Redis Streams broker.Transport.
type Transport struct {
	client redis.UniversalClient
	config *Config
	logger logger.Logger

	mu     sync.Mutex
	topics map[string]*topic
	subs   map[string]*subscription
	closed bool
	wg     sync.WaitGroup
}

// New creates a transport on top of an existing client. Zero config fields
// take their defaults.
func New(client redis.UniversalClient, cfg *Config, log logger.Logger) *Transport {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = defaults.StreamPrefix
	}
	if cfg.Consumer == "" {
		cfg.Consumer = defaults.Consumer
	}
	if cfg.DeadLetterSuffix == "" {
		cfg.DeadLetterSuffix = defaults.DeadLetterSuffix
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaults.BlockTimeout
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = defaults.LockDuration
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = defaults.MaxDeliveries
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if log == nil {
		log = logger.Global()
	}

	return &Transport{
		client: client,
		config: cfg,
		logger: log.With("component", "broker", "transport", transportName),
		topics: make(map[string]*topic),
		subs:   make(map[string]*subscription),
	}
}

func (t *Transport) topicStream(name string) string {
	return t.config.StreamPrefix + name
}

func (t *Transport) deadLetterStream(topicName, subscription string) string {
	return t.config.StreamPrefix + topicName + ":" + broker.DeadLetterSubscription(subscription, t.config.DeadLetterSuffix)
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
	tp := &topic{name: name, stream: t.topicStream(name), transport: t}
	t.topics[name] = tp
	return tp, nil
}

// Subscribe creates the consumer group if needed and starts consuming.
func (t *Transport) Subscribe(ctx context.Context, topicName, name string, h broker.Handler) (broker.Subscription, error) {
	if topicName == "" || name == "" {
		return nil, fmt.Errorf("broker: topic and subscription are required")
	}
	if h == nil {
		return nil, fmt.Errorf("broker: handler cannot be nil")
	}

	stream := t.topicStream(topicName)
	deadLetter := strings.HasSuffix(name, t.config.DeadLetterSuffix)
	if deadLetter {
		stream = t.deadLetterStream(topicName, strings.TrimSuffix(name, t.config.DeadLetterSuffix))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, broker.ErrTransportClosed
	}
	key := topicName + "\x00" + name
	if _, exists := t.subs[key]; exists {
		return nil, fmt.Errorf("%w: %s/%s", broker.ErrAlreadySubscribed, topicName, name)
	}

	if err := t.client.XGroupCreateMkStream(ctx, stream, name, "$").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s on %s: %w", name, stream, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		topicName:  topicName,
		name:       name,
		stream:     stream,
		deadLetter: deadLetter,
		handler:    h,
		transport:  t,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	t.subs[key] = sub

	t.wg.Add(1)
	go sub.run(runCtx)

	return sub, nil
}

// Close stops every subscription and waits for in-flight handlers.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[string]*subscription)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	t.wg.Wait()
	return nil
}

// Healthy reports whether Redis answers.
func (t *Transport) Healthy(ctx context.Context) bool {
	return t.client.Ping(ctx).Err() == nil
}

type topic struct {
	name      string
	stream    string
	transport *Transport
}

func (tp *topic) Name() string {
	return tp.name
}

// Publish appends msg to the topic stream.
func (tp *topic) Publish(ctx context.Context, msg *broker.Message) error {
	if msg == nil {
		return fmt.Errorf("broker: message cannot be nil")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: tp.stream,
		Values: map[string]any{payloadField: data},
	}
	if tp.transport.config.MaxLen > 0 {
		args.MaxLen = tp.transport.config.MaxLen
		args.Approx = true
	}
	if err := tp.transport.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", tp.name, err)
	}
	broker.Metrics().RecordMessagePublished(transportName, tp.name)
	return nil
}

type subscription struct {
	topicName  string
	name       string
	stream     string
	deadLetter bool
	handler    broker.Handler
	transport  *Transport
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

func (s *subscription) Topic() string {
	return s.topicName
}

func (s *subscription) Name() string {
	return s.name
}

// Close stops consuming and waits for the consumer loop to exit.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done

		t := s.transport
		t.mu.Lock()
		key := s.topicName + "\x00" + s.name
		if t.subs[key] == s {
			delete(t.subs, key)
		}
		t.mu.Unlock()
	})
	return nil
}

func (s *subscription) run(ctx context.Context) {
	defer s.transport.wg.Done()
	defer close(s.done)

	cfg := s.transport.config
	log := s.transport.logger.With("topic", s.topicName, "subscription", s.name)
	lastReclaim := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := s.transport.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.name,
			Consumer: cfg.Consumer,
			Streams:  []string{s.stream, ">"},
			Count:    cfg.BatchSize,
			Block:    cfg.BlockTimeout,
		}).Result()
		switch {
		case err == nil:
			for _, stream := range streams {
				for _, entry := range stream.Messages {
					s.process(ctx, entry, log)
				}
			}
		case errors.Is(err, redis.Nil):
		case ctx.Err() != nil:
			return
		default:
			log.Warn("stream read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.BlockTimeout):
			}
		}

		if time.Since(lastReclaim) >= cfg.LockDuration/2 {
			s.reclaim(ctx, log)
			lastReclaim = time.Now()
		}
	}
}

// process runs the handler for one entry and acknowledges it on success.
// Undecodable entries are acknowledged and dropped.
func (s *subscription) process(ctx context.Context, entry redis.XMessage, log logger.Logger) {
	msg, err := decode(entry)
	if err != nil {
		log.Error("dropping undecodable stream entry", "entry_id", entry.ID, "error", err)
		s.ack(ctx, entry.ID, log)
		return
	}

	if err := s.handler(ctx, msg); err != nil {
		broker.Metrics().RecordMessageDelivered(transportName, s.topicName, s.name, "retry")
		log.Warn("message handler failed", "entry_id", entry.ID, "message_id", msg.MessageID, "error", err)
		return
	}
	broker.Metrics().RecordMessageDelivered(transportName, s.topicName, s.name, "ack")
	s.ack(ctx, entry.ID, log)
}

func (s *subscription) ack(ctx context.Context, id string, log logger.Logger) {
	if err := s.transport.client.XAck(ctx, s.stream, s.name, id).Err(); err != nil {
		log.Warn("failed to acknowledge entry", "entry_id", id, "error", err)
	}
}

// reclaim redelivers entries whose lock expired and dead-letters those that
// used up their deliveries.
func (s *subscription) reclaim(ctx context.Context, log logger.Logger) {
	cfg := s.transport.config
	pending, err := s.transport.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.name,
		Idle:   cfg.LockDuration,
		Start:  "-",
		End:    "+",
		Count:  cfg.BatchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			log.Warn("failed to list pending entries", "error", err)
		}
		return
	}

	for _, p := range pending {
		claimed, err := s.transport.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   s.stream,
			Group:    s.name,
			Consumer: cfg.Consumer,
			MinIdle:  cfg.LockDuration,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			log.Warn("failed to claim pending entry", "entry_id", p.ID, "error", err)
			continue
		}
		for _, entry := range claimed {
			if p.RetryCount >= int64(cfg.MaxDeliveries) {
				s.moveToDeadLetter(ctx, entry, log)
				continue
			}
			s.process(ctx, entry, log)
		}
	}
}

func (s *subscription) moveToDeadLetter(ctx context.Context, entry redis.XMessage, log logger.Logger) {
	if s.deadLetter {
		log.Error("dropping message after dead-letter handler failures", "entry_id", entry.ID)
		s.ack(ctx, entry.ID, log)
		return
	}

	target := s.transport.deadLetterStream(s.topicName, s.name)
	if err := s.transport.client.XAdd(ctx, &redis.XAddArgs{
		Stream: target,
		Values: entry.Values,
	}).Err(); err != nil {
		log.Error("failed to dead-letter entry", "entry_id", entry.ID, "error", err)
		return
	}
	broker.Metrics().RecordMessageDeadLettered(transportName, s.topicName, s.name)
	s.ack(ctx, entry.ID, log)
}

func decode(entry redis.XMessage) (*broker.Message, error) {
	raw, ok := entry.Values[payloadField]
	if !ok {
		return nil, fmt.Errorf("entry has no %s field", payloadField)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, fmt.Errorf("unexpected payload type %T", raw)
	}

	var msg broker.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}
