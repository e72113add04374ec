// Package memory provides an in-memory implementation of the storage interface.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/storage"
)

// MemoryStorage implements storage.Store using an in-memory map.
type MemoryStorage struct {
	mu         sync.RWMutex
	executions map[string]*execution.Context
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		executions: make(map[string]*execution.Context),
	}
}

// Save stores a copy of c under a new execution id.
func (m *MemoryStorage) Save(ctx context.Context, c *execution.Context) (string, error) {
	id := uuid.NewString()
	c.ExecutionID = id
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Deep copy to avoid external modifications
	m.executions[id] = c.Clone()
	return id, nil
}

// Update replaces the execution stored under id.
func (m *MemoryStorage) Update(ctx context.Context, id string, c *execution.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[id]; !exists {
		return &storage.NotFoundError{EntityType: "execution", ID: id}
	}

	c.ExecutionID = id
	m.executions[id] = c.Clone()
	return nil
}

// Fetch returns a copy of the execution stored under id.
func (m *MemoryStorage) Fetch(ctx context.Context, id string) (*execution.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, exists := m.executions[id]
	if !exists {
		return nil, &storage.NotFoundError{EntityType: "execution", ID: id}
	}
	return c.Clone(), nil
}

// List returns copies of the executions matching filter.
func (m *MemoryStorage) List(ctx context.Context, filter *storage.Filter) ([]*execution.Context, int, error) {
	m.mu.RLock()
	all := make([]*execution.Context, 0, len(m.executions))
	for _, c := range m.executions {
		all = append(all, c.Clone())
	}
	m.mu.RUnlock()

	list, total := storage.Apply(all, filter)
	return list, total, nil
}

// Close releases resources. It is a no-op for in-memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}
