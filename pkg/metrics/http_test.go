package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
)

func sampledContext() (context.Context, trace.SpanContext) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{9, 8, 7, 6, 5, 4, 3, 2},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), spanCtx), spanCtx
}

func TestTraceExemplarLabels_WithSpan(t *testing.T) {
	ctx, spanCtx := sampledContext()

	labels, ok := traceExemplarLabels(ctx)
	if !ok {
		t.Fatal("expected exemplar labels from valid span context")
	}
	if labels["trace_id"] != spanCtx.TraceID().String() {
		t.Fatalf("expected trace_id %s, got %s", spanCtx.TraceID().String(), labels["trace_id"])
	}
	if labels["span_id"] != spanCtx.SpanID().String() {
		t.Fatalf("expected span_id %s, got %s", spanCtx.SpanID().String(), labels["span_id"])
	}
}

func TestTraceExemplarLabels_WithoutSpan(t *testing.T) {
	if labels, ok := traceExemplarLabels(context.Background()); ok {
		t.Fatalf("expected no exemplar labels without span, got %v", labels)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx, spanCtx := sampledContext()

	m.RecordHTTPRequest(ctx, http.MethodPost, "/v1/workflows/{name}/executions", http.StatusCreated, 5*time.Millisecond)
	m.RecordHTTPRequest(context.Background(), http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodPost, "/v1/workflows/{name}/executions", "201")); got != 1 {
		t.Errorf("expected 1 POST request, got %v", got)
	}

	body := scrapeOpenMetrics(t, m)
	if !strings.Contains(body, spanCtx.TraceID().String()) {
		t.Error("expected trace exemplar in OpenMetrics output")
	}
}

func TestInFlightGauge(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.IncInFlight()
	m.IncInFlight()
	m.DecInFlight()

	if got := testutil.ToFloat64(m.httpInFlight); got != 1 {
		t.Errorf("expected 1 in flight, got %v", got)
	}
}

func scrapeOpenMetrics(t *testing.T, m *Manager) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/openmetrics-text; version=1.0.0; charset=utf-8")
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	return w.Body.String()
}
