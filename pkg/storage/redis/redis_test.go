package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goclaw/conductor/pkg/definition"
	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/storage"
)

func requireRedisClient(tb testing.TB) redis.UniversalClient {
	tb.Helper()

	addr := os.Getenv("CONDUCTOR_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		tb.Skipf("redis is not available at %s: %v", addr, err)
	}

	tb.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// newTestStorage isolates each test under its own key prefix.
func newTestStorage(t *testing.T, opts ...Option) *RedisStorage {
	t.Helper()

	client := requireRedisClient(t)
	prefix := "conductor-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
	})

	return NewRedisStorage(client, append([]Option{WithKeyPrefix(prefix)}, opts...)...)
}

func TestRedisStorageSuite(t *testing.T) {
	suite := &storage.StoreTestSuite{
		NewStore: func(t *testing.T) storage.Store {
			return newTestStorage(t)
		},
	}

	suite.RunAllTests(t)
}

func TestRedisStorage_ListPrunesExpired(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	wf := &definition.WorkflowConfig{Name: "ingest", Tasks: []definition.TaskConfig{{TaskReferenceName: "a"}}}
	id, err := s.Save(ctx, execution.NewContext(wf, "", "", nil))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.client.Del(ctx, s.executionKey(id)).Err(); err != nil {
		t.Fatalf("Del failed: %v", err)
	}

	list, total, err := s.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 0 || len(list) != 0 {
		t.Errorf("expected expired record to be skipped, got %d", total)
	}

	remaining, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		t.Fatalf("ZCard failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected index to be pruned, %d ids remain", remaining)
	}
}

func TestRedisStorage_TTL(t *testing.T) {
	s := newTestStorage(t, WithTTL(time.Minute))
	ctx := context.Background()

	wf := &definition.WorkflowConfig{Name: "ingest", Tasks: []definition.TaskConfig{{TaskReferenceName: "a"}}}
	id, err := s.Save(ctx, execution.NewContext(wf, "", "", nil))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	ttl, err := s.client.TTL(ctx, s.executionKey(id)).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within one minute, got %v", ttl)
	}
}
