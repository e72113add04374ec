// Package redis provides a Redis-backed implementation of the storage interface.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/storage"
)

// DefaultKeyPrefix namespaces every key written by RedisStorage.
const DefaultKeyPrefix = "conductor:"

// RedisStorage implements storage.Store with one JSON string per execution and
// a sorted set of ids ordered by start time.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// Option configures RedisStorage.
type Option func(*RedisStorage)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *RedisStorage) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithTTL expires execution records ttl after their last write.
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStorage) {
		s.ttl = ttl
	}
}

// NewRedisStorage creates a store on top of an existing client.
func NewRedisStorage(client redis.UniversalClient, opts ...Option) *RedisStorage {
	s := &RedisStorage{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStorage) executionKey(id string) string {
	return s.keyPrefix + "execution:" + id
}

func (s *RedisStorage) indexKey() string {
	return s.keyPrefix + "executions"
}

// Save persists a new execution under a fresh id.
func (s *RedisStorage) Save(ctx context.Context, c *execution.Context) (string, error) {
	id := uuid.NewString()
	c.ExecutionID = id
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(c)
	if err != nil {
		return "", &storage.SerializationError{Operation: "marshal", Cause: err}
	}

	pipe := s.client.TxPipeline()
	pipe.SetNX(ctx, s.executionKey(id), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(c.StartTime.UnixNano()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", &storage.StorageUnavailableError{Cause: err}
	}
	return id, nil
}

// Update replaces an existing execution.
func (s *RedisStorage) Update(ctx context.Context, id string, c *execution.Context) error {
	c.ExecutionID = id
	data, err := json.Marshal(c)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}

	ttl := s.ttl
	if ttl == 0 {
		ttl = redis.KeepTTL
	}
	ok, err := s.client.SetXX(ctx, s.executionKey(id), data, ttl).Result()
	if err != nil {
		return &storage.StorageUnavailableError{Cause: err}
	}
	if !ok {
		return &storage.NotFoundError{EntityType: "execution", ID: id}
	}
	return nil
}

// Fetch retrieves an execution by id.
func (s *RedisStorage) Fetch(ctx context.Context, id string) (*execution.Context, error) {
	data, err := s.client.Get(ctx, s.executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &storage.NotFoundError{EntityType: "execution", ID: id}
		}
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	var c execution.Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return &c, nil
}

// List loads every indexed execution and filters in memory. Ids whose record
// has expired are pruned from the index.
func (s *RedisStorage) List(ctx context.Context, filter *storage.Filter) ([]*execution.Context, int, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, 0, &storage.StorageUnavailableError{Cause: err}
	}
	if len(ids) == 0 {
		return []*execution.Context{}, 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.executionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, &storage.StorageUnavailableError{Cause: err}
	}

	contexts := make([]*execution.Context, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var c execution.Context
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, 0, &storage.SerializationError{Operation: "unmarshal", Cause: err}
		}
		contexts = append(contexts, &c)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, 0, fmt.Errorf("failed to prune execution index: %w", err)
		}
	}

	list, total := storage.Apply(contexts, filter)
	return list, total, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStorage) Close() error {
	return nil
}
