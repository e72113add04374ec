// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/goclaw/conductor/pkg/api/middleware"
	"github.com/goclaw/conductor/pkg/api/models"
	"github.com/goclaw/conductor/pkg/api/response"
	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/logger"
	"github.com/goclaw/conductor/pkg/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

// ExecutionService is the orchestrator surface used by the handlers.
type ExecutionService interface {
	StartWorkflow(ctx context.Context, jobID, workflowName string, input map[string]any, userID string) (string, error)
	GetExecution(ctx context.Context, executionID string) (*execution.Context, error)
	ListExecutions(ctx context.Context, filter *storage.Filter) ([]*execution.Context, int, error)
	TerminateWorkflow(ctx context.Context, executionID, reason string) (*execution.Context, error)
}

// ExecutionHandler handles workflow execution endpoints.
type ExecutionHandler struct {
	service   ExecutionService
	logger    logger.Logger
	validator *validator.Validate
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(svc ExecutionService, log logger.Logger) *ExecutionHandler {
	if log == nil {
		log = logger.Global()
	}
	return &ExecutionHandler{
		service:   svc,
		logger:    log,
		validator: validator.New(),
	}
}

// StartExecution handles POST /v1/workflows/{name}/executions.
func (h *ExecutionHandler) StartExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	var req models.StartExecutionRequest
	if !h.decode(w, r, &req) {
		return
	}

	executionID, err := h.service.StartWorkflow(ctx, req.JobID, name, req.Input, req.UserID)
	if err != nil && executionID == "" {
		h.fail(w, r, "Failed to start workflow", err, "workflow", name)
		return
	}

	resp := models.StartExecutionResponse{
		ExecutionID: executionID,
		Workflow:    name,
	}
	// The execution exists; advancing its first task failed and the
	// failure is recorded on the execution itself.
	if err != nil {
		h.logger.WarnContext(ctx, "Workflow started with errors", "workflow", name, "execution_id", executionID, "error", err)
		resp.Error = err.Error()
	}
	response.JSON(w, http.StatusCreated, resp)
}

// GetExecution handles GET /v1/executions/{id}.
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.service.GetExecution(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get execution", err, "execution_id", id)
		return
	}
	response.JSON(w, http.StatusOK, c)
}

// ListExecutions handles GET /v1/executions. Query parameters: workflow,
// status (repeatable or comma separated), limit and offset.
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, err.Error(), middleware.GetRequestID(r.Context()))
		return
	}

	contexts, total, err := h.service.ListExecutions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list executions", err)
		return
	}
	if contexts == nil {
		contexts = []*execution.Context{}
	}

	response.JSON(w, http.StatusOK, models.ExecutionListResponse{
		Executions: contexts,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// TerminateExecution handles POST /v1/executions/{id}/terminate. The body
// is optional.
func (h *ExecutionHandler) TerminateExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.TerminateRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.service.TerminateWorkflow(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, r, "Failed to terminate execution", err, "execution_id", id)
		return
	}
	response.JSON(w, http.StatusOK, c)
}

// decode reads an optional JSON body into v and validates it. It writes the
// error response itself and reports whether the handler may continue.
func (h *ExecutionHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	requestID := middleware.GetRequestID(r.Context())

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WarnContext(r.Context(), "Failed to decode request", "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", requestID)
		return false
	}
	if err := h.validator.Struct(v); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return false
	}
	return true
}

func (h *ExecutionHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error, args ...any) {
	status := response.HTTPStatusFromError(err)
	args = append(args, "error", err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg, args...)
	} else {
		h.logger.DebugContext(r.Context(), msg, args...)
	}
	response.HandleError(w, err, middleware.GetRequestID(r.Context()))
}

func parseFilter(r *http.Request) (*storage.Filter, error) {
	q := r.URL.Query()
	filter := &storage.Filter{
		WorkflowName: strings.TrimSpace(q.Get("workflow")),
		Limit:        defaultListLimit,
	}

	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status, err := execution.ParseStatus(part)
			if err != nil {
				return nil, err
			}
			filter.Status = append(filter.Status, status)
		}
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			return nil, errors.New("limit must be between 1 and " + strconv.Itoa(maxListLimit))
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}
