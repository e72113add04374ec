// Package models defines API request/response data structures.
package models

import "github.com/goclaw/conductor/pkg/execution"

// StartExecutionRequest starts one execution of a named workflow.
type StartExecutionRequest struct {
	// JobID is an optional caller-side correlation id.
	JobID string `json:"job_id,omitempty" validate:"omitempty,max=256"`

	// Input must carry every input the workflow declares.
	Input map[string]any `json:"input"`

	// UserID identifies the initiator.
	UserID string `json:"user_id,omitempty" validate:"omitempty,max=256"`
}

// StartExecutionResponse is returned once the execution is stored. Error is
// set when dispatching the first task failed.
type StartExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
	Workflow    string `json:"workflow"`
	Error       string `json:"error,omitempty"`
}

// TerminateRequest stops a running execution.
type TerminateRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=1024"`
}

// ExecutionListResponse is one page of executions.
type ExecutionListResponse struct {
	Executions []*execution.Context `json:"executions"`
	Total      int                  `json:"total"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
}
