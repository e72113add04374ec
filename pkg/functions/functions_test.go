package functions

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("double", func(ctx context.Context, input map[string]any) (*Result, error) {
		n, _ := input["n"].(float64)
		return &Result{Success: true, Output: map[string]any{"n": n * 2}}, nil
	})

	res, err := r.Invoke(context.Background(), "double", map[string]any{"n": float64(21)})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !res.Success || res.Output["n"] != float64(42) {
		t.Errorf("unexpected result: %+v", res)
	}

	if err := r.Register("double", func(ctx context.Context, input map[string]any) (*Result, error) { return nil, nil }); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := r.Register("", nil); err == nil {
		t.Error("expected empty name to fail")
	}
}

func TestInvokeUnregistered(t *testing.T) {
	_, err := NewRegistry().Invoke(context.Background(), "missing", nil)
	var nr *NotRegisteredError
	if !errors.As(err, &nr) || nr.Name != "missing" {
		t.Errorf("expected NotRegisteredError, got %v", err)
	}
}

func TestInvokeRecoversPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("explode", func(ctx context.Context, input map[string]any) (*Result, error) {
		panic("kaboom")
	})

	res, err := r.Invoke(context.Background(), "explode", nil)
	if res != nil {
		t.Error("expected no result after panic")
	}
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if pe.Value != "kaboom" || len(pe.Stack) == 0 {
		t.Errorf("unexpected panic error: %+v", pe)
	}
}

func TestInvokeNilResult(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("empty", func(ctx context.Context, input map[string]any) (*Result, error) {
		return nil, nil
	})
	if _, err := r.Invoke(context.Background(), "empty", nil); err == nil {
		t.Error("expected nil result to be an error")
	}
}

func TestBuiltins(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, nil); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}

	want := []string{"check_flag", "fail", "log", "noop", "terminate"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	ctx := context.Background()
	tests := []struct {
		name      string
		input     map[string]any
		success   bool
		terminate bool
		wantErr   bool
	}{
		{name: "noop", input: map[string]any{"a": 1}, success: true},
		{name: "log", success: true},
		{name: "fail", input: map[string]any{"message": "bad"}, success: false},
		{name: "terminate", success: true, terminate: true},
		{name: "check_flag", input: map[string]any{"flag": true}, success: true},
		{name: "check_flag", input: map[string]any{"flag": false}, success: true, terminate: true},
		{name: "check_flag", input: map[string]any{"flag": "yes"}, wantErr: true},
	}

	for _, tt := range tests {
		res, err := r.Invoke(ctx, tt.name, tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
			continue
		}
		if res.Success != tt.success || res.Terminate != tt.terminate {
			t.Errorf("%s: unexpected result %+v", tt.name, res)
		}
	}

	if err := RegisterBuiltins(r, nil); err == nil {
		t.Error("expected second registration of builtins to fail")
	}
}
