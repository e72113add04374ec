package definition

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const ingestJSON = `{
  "workflows": [
    {
      "name": "ingest",
      "description": "dataset ingestion",
      "workflow_input": {"dataset_id": "workflow_input.dataset_id"},
      "tasks": [
        {
          "name": "prepare",
          "task_reference_name": "prepare_ref",
          "type": "local-call",
          "function": "noop",
          "input_params": {"dataset_id": "{{ workflow_input.dataset_id }}"}
        },
        {
          "name": "scan",
          "task_reference_name": "scan_ref",
          "description": "virus scan",
          "type": "remote-call",
          "topic": "scanner",
          "input_params": {"dataset_id": "{{ workflow_input.dataset_id }}"},
          "output_params": {"success": "{{ response.success }}"},
          "attributes": {"priority": "high"}
        }
      ],
      "exception_task": [
        {
          "name": "cleanup",
          "task_reference_name": "cleanup_ref",
          "type": "exception-step",
          "function": "noop"
        }
      ]
    }
  ],
  "subscriptions": [
    {"topic": "scanner-results", "subscription": "orchestrator", "description": "scan results"}
  ]
}`

const ingestYAML = `
workflows:
  - name: ingest
    workflow_input:
      dataset_id: workflow_input.dataset_id
    tasks:
      - name: prepare
        task_reference_name: prepare_ref
        type: local-call
        function: noop
subscriptions: []
`

func TestParseJSON(t *testing.T) {
	defs, err := Parse([]byte(ingestJSON), FormatJSON)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	wf, ok := defs.GetWorkflowByName("ingest")
	if !ok {
		t.Fatal("expected workflow ingest to be found")
	}
	if len(wf.Tasks) != 2 || len(wf.ExceptionTask) != 1 {
		t.Fatalf("unexpected chain sizes: tasks=%d exception=%d", len(wf.Tasks), len(wf.ExceptionTask))
	}

	scan := wf.Tasks[1]
	if scan.Type != TaskTypeRemoteCall || scan.Topic != "scanner" {
		t.Errorf("unexpected scan task: %+v", scan)
	}
	if scan.Attributes["priority"] != "high" {
		t.Errorf("expected attributes to be decoded, got %v", scan.Attributes)
	}
	params, ok := scan.InputParams.(map[string]any)
	if !ok {
		t.Fatalf("expected input params map, got %T", scan.InputParams)
	}
	if params["dataset_id"] != "{{ workflow_input.dataset_id }}" {
		t.Errorf("unexpected input params: %v", params)
	}

	if len(defs.Subscriptions) != 1 || defs.Subscriptions[0].Subscription != "orchestrator" {
		t.Errorf("unexpected subscriptions: %+v", defs.Subscriptions)
	}

	if _, ok := defs.GetWorkflowByName("missing"); ok {
		t.Error("expected missing workflow lookup to fail")
	}
}

func TestParseYAML(t *testing.T) {
	defs, err := Parse([]byte(ingestYAML), FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	wf, ok := defs.GetWorkflowByName("ingest")
	if !ok {
		t.Fatal("expected workflow ingest to be found")
	}
	if wf.Tasks[0].Function != "noop" {
		t.Errorf("expected function noop, got %q", wf.Tasks[0].Function)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.json")
	if err := os.WriteFile(path, []byte(ingestJSON), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	defs, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := defs.GetWorkflowByName("ingest"); !ok {
		t.Error("expected workflow ingest to be found")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "workflows.toml")); err == nil {
		t.Error("expected unsupported extension to fail")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected missing file to fail")
	}
}

func TestValidateStructure(t *testing.T) {
	tests := []struct {
		name    string
		defs    *Definitions
		wantErr string
	}{
		{
			name: "remote call without topic",
			defs: New([]WorkflowConfig{{
				Name:  "wf",
				Tasks: []TaskConfig{{Name: "a", TaskReferenceName: "a", Type: TaskTypeRemoteCall}},
			}}, nil),
			wantErr: "Topic",
		},
		{
			name: "local call without function",
			defs: New([]WorkflowConfig{{
				Name:  "wf",
				Tasks: []TaskConfig{{Name: "a", TaskReferenceName: "a", Type: TaskTypeLocalCall}},
			}}, nil),
			wantErr: "Function",
		},
		{
			name: "unknown type",
			defs: New([]WorkflowConfig{{
				Name:  "wf",
				Tasks: []TaskConfig{{Name: "a", TaskReferenceName: "a", Type: "cron", Function: "noop"}},
			}}, nil),
			wantErr: "must be one of",
		},
		{
			name: "exception step in main chain",
			defs: New([]WorkflowConfig{{
				Name:  "wf",
				Tasks: []TaskConfig{{Name: "a", TaskReferenceName: "a", Type: TaskTypeExceptionStep, Function: "noop"}},
			}}, nil),
			wantErr: "belong in exception_task",
		},
		{
			name: "local call in exception chain",
			defs: New([]WorkflowConfig{{
				Name:          "wf",
				Tasks:         []TaskConfig{{Name: "a", TaskReferenceName: "a", Type: TaskTypeLocalCall, Function: "noop"}},
				ExceptionTask: []TaskConfig{{Name: "b", TaskReferenceName: "b", Type: TaskTypeLocalCall, Function: "noop"}},
			}}, nil),
			wantErr: "must be exception-step",
		},
		{
			name: "duplicate workflow names",
			defs: New([]WorkflowConfig{
				{Name: "wf", Tasks: []TaskConfig{{Name: "a", TaskReferenceName: "a", Type: TaskTypeLocalCall, Function: "noop"}}},
				{Name: "wf", Tasks: []TaskConfig{{Name: "a", TaskReferenceName: "a", Type: TaskTypeLocalCall, Function: "noop"}}},
			}, nil),
			wantErr: "declared more than once",
		},
		{
			name:    "no workflows",
			defs:    New(nil, nil),
			wantErr: "Workflows",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.defs.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestValidateTaskReferencesListsEveryPair(t *testing.T) {
	task := func(ref string) TaskConfig {
		return TaskConfig{Name: ref, TaskReferenceName: ref, Type: TaskTypeLocalCall, Function: "noop"}
	}
	defs := New([]WorkflowConfig{
		{Name: "alpha", Tasks: []TaskConfig{task("a"), task("b"), task("a"), task("a")}},
		{Name: "beta", Tasks: []TaskConfig{task("x"), task("y")}},
		{Name: "gamma", Tasks: []TaskConfig{task("z"), task("z")}},
	}, nil)

	err := defs.ValidateTaskReferences()
	var dupErr *DuplicateReferenceError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateReferenceError, got %v", err)
	}

	want := []DuplicateReference{
		{Workflow: "alpha", Reference: "a"},
		{Workflow: "gamma", Reference: "z"},
	}
	if !reflect.DeepEqual(dupErr.Duplicates, want) {
		t.Errorf("expected %v, got %v", want, dupErr.Duplicates)
	}
	if !strings.Contains(err.Error(), "alpha/a") || !strings.Contains(err.Error(), "gamma/z") {
		t.Errorf("expected message to name every pair, got %q", err.Error())
	}

	clean := New([]WorkflowConfig{{Name: "beta", Tasks: []TaskConfig{task("x"), task("y")}}}, nil)
	if err := clean.ValidateTaskReferences(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidateFunctionsListsEveryTriple(t *testing.T) {
	defs := New([]WorkflowConfig{
		{
			Name: "alpha",
			Tasks: []TaskConfig{
				{Name: "a", TaskReferenceName: "a", Type: TaskTypeLocalCall, Function: "noop"},
				{Name: "b", TaskReferenceName: "b", Type: TaskTypeLocalCall, Function: "nop"},
				{Name: "c", TaskReferenceName: "c", Type: TaskTypeRemoteCall, Topic: "scanner"},
			},
			ExceptionTask: []TaskConfig{
				{Name: "undo", TaskReferenceName: "undo", Type: TaskTypeExceptionStep, Function: "rollback"},
			},
		},
	}, nil)
	known := func(name string) bool { return name == "noop" }

	err := defs.ValidateFunctions(known)
	var fnErr *UnknownFunctionError
	if !errors.As(err, &fnErr) {
		t.Fatalf("expected UnknownFunctionError, got %v", err)
	}
	want := []UnknownFunction{
		{Workflow: "alpha", Reference: "b", Function: "nop"},
		{Workflow: "alpha", Reference: "undo", Function: "rollback"},
	}
	if !reflect.DeepEqual(fnErr.Functions, want) {
		t.Errorf("expected %v, got %v", want, fnErr.Functions)
	}
	if !strings.Contains(err.Error(), `alpha/b -> "nop"`) {
		t.Errorf("expected message to name the triple, got %q", err.Error())
	}

	all := func(string) bool { return true }
	if err := defs.ValidateFunctions(all); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidateInput(t *testing.T) {
	wf := &WorkflowConfig{
		Name:          "wf",
		WorkflowInput: map[string]string{"dataset_id": "workflow_input.dataset_id", "owner": "workflow_input.owner"},
	}

	if !wf.ValidateInput(map[string]any{"dataset_id": "d1", "owner": "o1", "extra": 1}) {
		t.Error("expected complete input to validate")
	}
	if wf.ValidateInput(map[string]any{"dataset_id": "d1"}) {
		t.Error("expected incomplete input to be rejected")
	}
	missing := wf.MissingInputs(map[string]any{})
	if !reflect.DeepEqual(missing, []string{"dataset_id", "owner"}) {
		t.Errorf("unexpected missing inputs: %v", missing)
	}

	open := &WorkflowConfig{Name: "open"}
	if !open.ValidateInput(nil) {
		t.Error("expected workflow without declared inputs to accept nil input")
	}
}

func TestChainNavigation(t *testing.T) {
	wf := &WorkflowConfig{
		Name: "wf",
		Tasks: []TaskConfig{
			{TaskReferenceName: "a"}, {TaskReferenceName: "b"}, {TaskReferenceName: "c"},
		},
		ExceptionTask: []TaskConfig{{TaskReferenceName: "x"}, {TaskReferenceName: "y"}},
	}

	if first, ok := wf.FirstTask(); !ok || first.TaskReferenceName != "a" {
		t.Errorf("unexpected first task: %+v", first)
	}
	if next, ok := wf.NextTask("a"); !ok || next.TaskReferenceName != "b" {
		t.Errorf("unexpected next task: %+v", next)
	}
	if _, ok := wf.NextTask("c"); ok {
		t.Error("expected no task after the last one")
	}
	if _, ok := wf.NextTask("unknown"); ok {
		t.Error("expected unknown reference to have no successor")
	}
	if first, ok := wf.FirstExceptionTask(); !ok || first.TaskReferenceName != "x" {
		t.Errorf("unexpected first exception task: %+v", first)
	}
	if next, ok := wf.NextExceptionTask("x"); !ok || next.TaskReferenceName != "y" {
		t.Errorf("unexpected next exception task: %+v", next)
	}
	if _, ok := wf.ExceptionTaskByReference("b"); ok {
		t.Error("main chain references must not resolve in the exception chain")
	}
}

func TestRemoteTopicsDistinct(t *testing.T) {
	defs := New([]WorkflowConfig{
		{Name: "one", Tasks: []TaskConfig{
			{TaskReferenceName: "a", Type: TaskTypeRemoteCall, Topic: "scanner"},
			{TaskReferenceName: "b", Type: TaskTypeLocalCall, Topic: "ignored"},
			{TaskReferenceName: "c", Type: TaskTypeRemoteCall, Topic: "archiver"},
		}},
		{Name: "two", Tasks: []TaskConfig{
			{TaskReferenceName: "a", Type: TaskTypeRemoteCall, Topic: "scanner"},
		}},
	}, nil)

	got := defs.RemoteTopics()
	want := []string{"archiver", "scanner"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
