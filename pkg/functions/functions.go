// Package functions is the registry of in-process functions that local-call
// and exception-step tasks invoke by name.
package functions

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
)

// Result is what a local function reports back to the workflow.
type Result struct {
	Success bool `json:"success"`
	// Message is a human-readable outcome.
	Message string `json:"message,omitempty"`
	// Terminate ends the workflow as COMPLETED when set together with Success.
	Terminate bool `json:"terminate,omitempty"`
	// Output is stored as the task output.
	Output map[string]any `json:"output,omitempty"`
}

// Func is a local function. Returning an error is treated like an
// unsuccessful result.
type Func func(ctx context.Context, input map[string]any) (*Result, error)

// NotRegisteredError is returned when a task names an unknown function.
type NotRegisteredError struct {
	Name string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("local function not registered: %s", e.Name)
}

// PanicError wraps a panic raised by a local function.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("local function %s panicked: %v", e.Name, e.Value)
}

// Registry maps function names to implementations. It is populated at
// startup and read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name. Registering a name twice is an error.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("function name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("function %s cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("function already registered: %s", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the function registered under name. Panics are recovered into
// a PanicError and a nil result from the function is an error.
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]any) (result *Result, err error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &PanicError{Name: name, Value: rec, Stack: debug.Stack()}
		}
	}()

	result, err = fn(ctx, input)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("local function %s returned no result", name)
	}
	return result, nil
}
