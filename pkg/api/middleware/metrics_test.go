package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

type httpRecord struct {
	method string
	route  string
	status int
	traced bool
}

type mockMetricsRecorder struct {
	mu       sync.Mutex
	records  []httpRecord
	inFlight int
	peak     int
}

func (m *mockMetricsRecorder) RecordHTTPRequest(ctx context.Context, method, route string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, httpRecord{
		method: method,
		route:  route,
		status: status,
		traced: trace.SpanContextFromContext(ctx).IsValid(),
	})
}

func (m *mockMetricsRecorder) IncInFlight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
}

func (m *mockMetricsRecorder) DecInFlight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	mock := &mockMetricsRecorder{}

	r := chi.NewRouter()
	r.Use(Metrics(mock))
	r.Post("/v1/executions/{id}/terminate", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/executions/9f1c/terminate", nil))

	if len(mock.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(mock.records))
	}
	got := mock.records[0]
	if got.method != http.MethodPost || got.route != "/v1/executions/{id}/terminate" || got.status != http.StatusConflict {
		t.Errorf("unexpected record: %+v", got)
	}
	if mock.inFlight != 0 || mock.peak != 1 {
		t.Errorf("in-flight = %d peak = %d, want 0 and 1", mock.inFlight, mock.peak)
	}
}

func TestMetrics_DefaultStatus(t *testing.T) {
	mock := &mockMetricsRecorder{}
	handler := Metrics(mock)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if len(mock.records) != 1 || mock.records[0].status != http.StatusOK || mock.records[0].route != "/healthz" {
		t.Errorf("unexpected records: %+v", mock.records)
	}
}

func TestMetrics_PanicRecordedAs500(t *testing.T) {
	mock := &mockMetricsRecorder{}
	handler := Metrics(mock)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/executions", nil))
	}()

	if len(mock.records) != 1 || mock.records[0].status != http.StatusInternalServerError {
		t.Errorf("unexpected records: %+v", mock.records)
	}
	if mock.inFlight != 0 {
		t.Errorf("in-flight gauge not released: %d", mock.inFlight)
	}
}

func TestMetrics_SeesTracingContext(t *testing.T) {
	_, shutdown := setTracingTestProvider(t)
	defer shutdown()

	mock := &mockMetricsRecorder{}
	handler := Tracing(DefaultTracingOptions())(Metrics(mock)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/executions", nil))

	if len(mock.records) != 1 || !mock.records[0].traced {
		t.Errorf("expected a traced record, got %+v", mock.records)
	}
}
