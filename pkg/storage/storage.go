// Package storage provides persistent storage for workflow execution records.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goclaw/conductor/pkg/execution"
)

// Store persists execution contexts. Implementations are expected to be
// durable and immediately consistent; the orchestrator keeps no cache.
type Store interface {
	// Save persists a new context, assigns its execution id and returns it.
	Save(ctx context.Context, c *execution.Context) (string, error)
	// Update replaces the context stored under id.
	Update(ctx context.Context, id string, c *execution.Context) error
	// Fetch returns the context stored under id.
	Fetch(ctx context.Context, id string) (*execution.Context, error)
	// List returns contexts matching filter and the total before pagination.
	List(ctx context.Context, filter *Filter) ([]*execution.Context, int, error)

	Close() error
}

// Filter selects executions in List.
type Filter struct {
	WorkflowName string             `json:"workflow_name,omitempty"`
	Status       []execution.Status `json:"status,omitempty"`
	Limit        int                `json:"limit"`
	Offset       int                `json:"offset"`
}

// Matches reports whether c passes the workflow and status criteria.
func (f *Filter) Matches(c *execution.Context) bool {
	if f == nil {
		return true
	}
	if f.WorkflowName != "" && c.WorkflowName != f.WorkflowName {
		return false
	}
	if len(f.Status) == 0 {
		return true
	}
	for _, s := range f.Status {
		if c.Status == s {
			return true
		}
	}
	return false
}

// Apply filters, orders by start time and paginates contexts.
func Apply(contexts []*execution.Context, filter *Filter) ([]*execution.Context, int) {
	matched := make([]*execution.Context, 0, len(contexts))
	for _, c := range contexts {
		if filter.Matches(c) {
			matched = append(matched, c)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime.Equal(matched[j].StartTime) {
			return matched[i].ExecutionID < matched[j].ExecutionID
		}
		return matched[i].StartTime.Before(matched[j].StartTime)
	})

	total := len(matched)
	if filter != nil && filter.Limit > 0 {
		start := filter.Offset
		end := filter.Offset + filter.Limit
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	return matched, total
}

// NotFoundError indicates that the requested entity was not found.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Cause
}

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}
