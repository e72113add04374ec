// Package dispatch routes a task to the handler registered for its type.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/goclaw/conductor/pkg/definition"
	"github.com/goclaw/conductor/pkg/execution"
)

// Request carries one task to its handler.
type Request struct {
	Workflow *definition.WorkflowConfig
	Task     *definition.TaskConfig
	Context  *execution.Context
}

// Handler runs one task shape. Task failures are recorded on the context and
// never returned; an error means the outcome could not be persisted.
type Handler interface {
	Handle(ctx context.Context, req *Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// Channels has one entry point per task type.
type Channels interface {
	LocalCall(ctx context.Context, req *Request) error
	RemoteCall(ctx context.Context, req *Request) error
	ExceptionStep(ctx context.Context, req *Request) error
}

// NoHandlerError is returned when no handler is registered for a task type.
type NoHandlerError struct {
	Type definition.TaskType
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for task type %s", e.Type)
}

// Dispatcher implements Channels over a registry of handlers, one per type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[definition.TaskType]Handler
}

var _ Channels = (*Dispatcher)(nil)

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[definition.TaskType]Handler)}
}

// Register attaches h to the channel for taskType. Each channel accepts
// exactly one handler.
func (d *Dispatcher) Register(taskType definition.TaskType, h Handler) error {
	if !taskType.IsValid() {
		return fmt.Errorf("unknown task type %q", taskType)
	}
	if h == nil {
		return fmt.Errorf("handler for %s cannot be nil", taskType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[taskType]; exists {
		return fmt.Errorf("handler already registered for task type %s", taskType)
	}
	d.handlers[taskType] = h
	return nil
}

// Dispatch sends req to the channel matching its task type.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) error {
	if req == nil || req.Task == nil {
		return fmt.Errorf("dispatch request has no task")
	}
	switch req.Task.Type {
	case definition.TaskTypeLocalCall:
		return d.LocalCall(ctx, req)
	case definition.TaskTypeRemoteCall:
		return d.RemoteCall(ctx, req)
	case definition.TaskTypeExceptionStep:
		return d.ExceptionStep(ctx, req)
	default:
		return &NoHandlerError{Type: req.Task.Type}
	}
}

// LocalCall runs a local-call task.
func (d *Dispatcher) LocalCall(ctx context.Context, req *Request) error {
	return d.send(ctx, definition.TaskTypeLocalCall, req)
}

// RemoteCall runs a remote-call task.
func (d *Dispatcher) RemoteCall(ctx context.Context, req *Request) error {
	return d.send(ctx, definition.TaskTypeRemoteCall, req)
}

// ExceptionStep runs an exception-chain task.
func (d *Dispatcher) ExceptionStep(ctx context.Context, req *Request) error {
	return d.send(ctx, definition.TaskTypeExceptionStep, req)
}

func (d *Dispatcher) send(ctx context.Context, taskType definition.TaskType, req *Request) error {
	d.mu.RLock()
	h, ok := d.handlers[taskType]
	d.mu.RUnlock()
	if !ok {
		return &NoHandlerError{Type: taskType}
	}
	return h.Handle(ctx, req)
}
