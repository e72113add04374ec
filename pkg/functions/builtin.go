package functions

import (
	"context"
	"fmt"

	"github.com/goclaw/conductor/pkg/logger"
)

// RegisterBuiltins installs the functions every deployment provides:
//
//	noop        succeeds and echoes its input as output
//	log         logs its input at info level and succeeds
//	fail        fails with input["message"]
//	terminate   succeeds and ends the workflow early
//	check_flag  succeeds when input["flag"] is true, otherwise terminates
func RegisterBuiltins(r *Registry, log logger.Logger) error {
	if log == nil {
		log = logger.Global()
	}
	builtins := map[string]Func{
		"noop": func(ctx context.Context, input map[string]any) (*Result, error) {
			return &Result{Success: true, Message: "ok", Output: input}, nil
		},
		"log": func(ctx context.Context, input map[string]any) (*Result, error) {
			log.InfoContext(ctx, "workflow log step", "input", input)
			return &Result{Success: true, Message: "logged"}, nil
		},
		"fail": func(ctx context.Context, input map[string]any) (*Result, error) {
			msg, _ := input["message"].(string)
			if msg == "" {
				msg = "step failed"
			}
			return &Result{Success: false, Message: msg}, nil
		},
		"terminate": func(ctx context.Context, input map[string]any) (*Result, error) {
			return &Result{Success: true, Terminate: true, Message: "terminated early", Output: input}, nil
		},
		"check_flag": func(ctx context.Context, input map[string]any) (*Result, error) {
			flag, ok := input["flag"].(bool)
			if !ok {
				return nil, fmt.Errorf("check_flag: input flag must be a boolean, got %T", input["flag"])
			}
			if flag {
				return &Result{Success: true, Message: "flag set"}, nil
			}
			return &Result{Success: true, Terminate: true, Message: "flag not set, nothing to do"}, nil
		},
	}

	for name, fn := range builtins {
		if err := r.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}
