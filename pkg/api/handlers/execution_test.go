package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/goclaw/conductor/pkg/api/models"
	"github.com/goclaw/conductor/pkg/api/response"
	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/logger"
	"github.com/goclaw/conductor/pkg/orchestrator"
	"github.com/goclaw/conductor/pkg/storage"
)

type fakeService struct {
	started    []models.StartExecutionRequest
	startID    string
	startErr   error
	executions map[string]*execution.Context
	lastFilter *storage.Filter
	terminated map[string]string
}

func newFakeService() *fakeService {
	return &fakeService{
		executions: map[string]*execution.Context{
			"exec-1": {ExecutionID: "exec-1", WorkflowName: "orders", Status: execution.StatusRunning},
			"exec-2": {ExecutionID: "exec-2", WorkflowName: "orders", Status: execution.StatusCompleted},
		},
		terminated: make(map[string]string),
	}
}

func (f *fakeService) StartWorkflow(_ context.Context, jobID, name string, input map[string]any, userID string) (string, error) {
	if f.startErr != nil {
		return f.startID, f.startErr
	}
	if name != "orders" {
		return "", orchestrator.ErrWorkflowNotFound
	}
	f.started = append(f.started, models.StartExecutionRequest{JobID: jobID, Input: input, UserID: userID})
	return "exec-new", nil
}

func (f *fakeService) GetExecution(_ context.Context, id string) (*execution.Context, error) {
	c, ok := f.executions[id]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: "execution", ID: id}
	}
	return c, nil
}

func (f *fakeService) ListExecutions(_ context.Context, filter *storage.Filter) ([]*execution.Context, int, error) {
	f.lastFilter = filter
	all := make([]*execution.Context, 0, len(f.executions))
	for _, c := range f.executions {
		all = append(all, c)
	}
	page, total := storage.Apply(all, filter)
	return page, total, nil
}

func (f *fakeService) TerminateWorkflow(ctx context.Context, id, reason string) (*execution.Context, error) {
	c, err := f.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.Terminate(reason); err != nil {
		return nil, err
	}
	f.terminated[id] = reason
	return c, nil
}

func newTestRouter(svc ExecutionService) http.Handler {
	h := NewExecutionHandler(svc, logger.NewWithWriter(&logger.Config{Level: logger.ErrorLevel}, &bytes.Buffer{}))
	r := chi.NewRouter()
	r.Post("/v1/workflows/{name}/executions", h.StartExecution)
	r.Get("/v1/executions", h.ListExecutions)
	r.Get("/v1/executions/{id}", h.GetExecution)
	r.Post("/v1/executions/{id}/terminate", h.TerminateExecution)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp response.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal error response %q: %v", w.Body.String(), err)
	}
	return resp.Error.Code
}

func TestExecutionHandler_StartExecution(t *testing.T) {
	svc := newFakeService()
	router := newTestRouter(svc)

	w := do(t, router, http.MethodPost, "/v1/workflows/orders/executions",
		`{"job_id":"job-9","user_id":"u-1","input":{"order_id":"o-1"}}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp models.StartExecutionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.ExecutionID != "exec-new" || resp.Workflow != "orders" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(svc.started) != 1 || svc.started[0].JobID != "job-9" || svc.started[0].UserID != "u-1" || svc.started[0].Input["order_id"] != "o-1" {
		t.Errorf("unexpected start call: %+v", svc.started)
	}
}

func TestExecutionHandler_StartExecutionErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		startErr   error
		wantStatus int
		wantCode   string
	}{
		{"unknown workflow", "/v1/workflows/nope/executions", `{}`, nil, http.StatusNotFound, response.ErrCodeNotFound},
		{"malformed body", "/v1/workflows/orders/executions", `{"input":`, nil, http.StatusBadRequest, response.ErrCodeBadRequest},
		{"oversized job id", "/v1/workflows/orders/executions", `{"job_id":"` + strings.Repeat("j", 300) + `"}`, nil, http.StatusBadRequest, response.ErrCodeValidationFailed},
		{
			"missing inputs", "/v1/workflows/orders/executions", `{}`,
			&orchestrator.InvalidInputError{Workflow: "orders", Missing: []string{"order_id"}},
			http.StatusBadRequest, response.ErrCodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.startErr = tt.startErr
			w := do(t, newTestRouter(svc), http.MethodPost, tt.path, tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestExecutionHandler_StartExecutionFirstTaskFailed(t *testing.T) {
	svc := newFakeService()
	svc.startID = "exec-partial"
	svc.startErr = errors.New("publish scan-requests: broker unavailable")

	w := do(t, newTestRouter(svc), http.MethodPost, "/v1/workflows/orders/executions", `{}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var resp models.StartExecutionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.ExecutionID != "exec-partial" || !strings.Contains(resp.Error, "broker unavailable") {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestExecutionHandler_StartExecutionEmptyBody(t *testing.T) {
	svc := newFakeService()
	w := do(t, newTestRouter(svc), http.MethodPost, "/v1/workflows/orders/executions", "")

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestExecutionHandler_GetExecution(t *testing.T) {
	router := newTestRouter(newFakeService())

	w := do(t, router, http.MethodGet, "/v1/executions/exec-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var c execution.Context
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("failed to unmarshal execution: %v", err)
	}
	if c.ExecutionID != "exec-1" || c.Status != execution.StatusRunning {
		t.Errorf("unexpected execution: %+v", c)
	}

	w = do(t, router, http.MethodGet, "/v1/executions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestExecutionHandler_ListExecutions(t *testing.T) {
	svc := newFakeService()
	router := newTestRouter(svc)

	w := do(t, router, http.MethodGet, "/v1/executions?workflow=orders&status=completed&limit=10&offset=0", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp models.ExecutionListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal list: %v", err)
	}
	if resp.Total != 1 || len(resp.Executions) != 1 || resp.Executions[0].ExecutionID != "exec-2" {
		t.Errorf("unexpected list: %+v", resp)
	}
	if resp.Limit != 10 || svc.lastFilter.WorkflowName != "orders" {
		t.Errorf("unexpected filter: %+v", svc.lastFilter)
	}
}

func TestExecutionHandler_ListExecutionsEmpty(t *testing.T) {
	svc := newFakeService()
	w := do(t, newTestRouter(svc), http.MethodGet, "/v1/executions?workflow=unknown", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"executions":[]`) {
		t.Errorf("expected an empty array, got %s", w.Body.String())
	}
	if svc.lastFilter.Limit != defaultListLimit {
		t.Errorf("limit = %d, want default %d", svc.lastFilter.Limit, defaultListLimit)
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantErr    bool
		wantStatus []execution.Status
	}{
		{"repeated status", "status=running&status=FAILED", false, []execution.Status{execution.StatusRunning, execution.StatusFailed}},
		{"comma separated", "status=completed,terminated", false, []execution.Status{execution.StatusCompleted, execution.StatusTerminated}},
		{"unknown status", "status=paused", true, nil},
		{"limit too large", "limit=501", true, nil},
		{"limit zero", "limit=0", true, nil},
		{"negative offset", "offset=-1", true, nil},
		{"bad offset", "offset=x", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/executions?"+tt.query, nil)
			filter, err := parseFilter(req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFilter() error = %v", err)
			}
			if len(filter.Status) != len(tt.wantStatus) {
				t.Fatalf("status = %v, want %v", filter.Status, tt.wantStatus)
			}
			for i := range tt.wantStatus {
				if filter.Status[i] != tt.wantStatus[i] {
					t.Errorf("status[%d] = %s, want %s", i, filter.Status[i], tt.wantStatus[i])
				}
			}
		})
	}
}

func TestExecutionHandler_TerminateExecution(t *testing.T) {
	svc := newFakeService()
	router := newTestRouter(svc)

	w := do(t, router, http.MethodPost, "/v1/executions/exec-1/terminate", `{"reason":"operator request"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if svc.terminated["exec-1"] != "operator request" {
		t.Errorf("unexpected terminate calls: %v", svc.terminated)
	}

	w = do(t, router, http.MethodPost, "/v1/executions/exec-2/terminate", "")
	if w.Code != http.StatusConflict {
		t.Errorf("terminating a completed execution: status = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodPost, "/v1/executions/missing/terminate", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("terminating a missing execution: status = %d, want 404", w.Code)
	}
}
