package metrics

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/goclaw/conductor/pkg/api/middleware"
	"github.com/goclaw/conductor/pkg/broker"
	"github.com/goclaw/conductor/pkg/orchestrator"
)

var (
	_ orchestrator.MetricsRecorder = (*Manager)(nil)
	_ broker.MetricsRecorder       = (*Manager)(nil)
	_ middleware.MetricsRecorder   = (*Manager)(nil)
)

func scrape(t *testing.T, m *Manager) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	return w.Body.String()
}

func TestNewManager(t *testing.T) {
	m := NewManager(DefaultConfig())
	if !m.Enabled() {
		t.Error("expected metrics to be enabled")
	}
	if m.Registry() == nil {
		t.Error("expected a registry")
	}

	cfg := DefaultConfig()
	cfg.Enabled = false
	if NewManager(cfg).Enabled() {
		t.Error("expected metrics to be disabled")
	}
}

func TestNewManager_EmptyBucketsUseDefaults(t *testing.T) {
	m := NewManager(Config{Enabled: true})
	m.RecordWorkflowFinished("ingest", "COMPLETED", 2*time.Second)

	if !strings.Contains(scrape(t, m), `conductor_workflow_duration_seconds_bucket{status="COMPLETED",workflow="ingest",le="5"} 1`) {
		t.Error("expected default workflow buckets")
	}
}

func TestWorkflowMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordWorkflowStarted("ingest")
	m.RecordWorkflowStarted("ingest")
	m.RecordWorkflowFinished("ingest", "COMPLETED", 3*time.Second)

	if got := testutil.ToFloat64(m.workflowsStarted.WithLabelValues("ingest")); got != 2 {
		t.Errorf("expected 2 started, got %v", got)
	}
	if got := testutil.ToFloat64(m.workflowsFinished.WithLabelValues("ingest", "COMPLETED")); got != 1 {
		t.Errorf("expected 1 completed, got %v", got)
	}
	if got := testutil.ToFloat64(m.workflowsActive.WithLabelValues("ingest")); got != 1 {
		t.Errorf("expected 1 active, got %v", got)
	}
	if got := testutil.CollectAndCount(m.workflowDuration); got != 1 {
		t.Errorf("expected 1 duration series, got %d", got)
	}
}

func TestTaskMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordTaskExecution("local-call", "completed", time.Millisecond)
	m.RecordTaskExecution("local-call", "failed", time.Millisecond)
	m.RecordTaskExecution("remote-call", "published", time.Millisecond)

	if got := testutil.ToFloat64(m.taskExecutions.WithLabelValues("local-call", "failed")); got != 1 {
		t.Errorf("expected 1 failed local call, got %v", got)
	}
	if got := testutil.CollectAndCount(m.taskExecutions); got != 3 {
		t.Errorf("expected 3 task series, got %d", got)
	}
}

func TestBrokerMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordResponse("response", "completed")
	m.RecordResponse("dead_letter", "abandoned")
	m.RecordMessagePublished("memory", "scan-requests")
	m.RecordMessageDelivered("memory", "scan-responses", "orchestrator", "ack")
	m.RecordMessageDelivered("memory", "scan-responses", "orchestrator", "retry")
	m.RecordMessageDeadLettered("memory", "scan-requests", "conductor")

	if got := testutil.ToFloat64(m.responses.WithLabelValues("dead_letter", "abandoned")); got != 1 {
		t.Errorf("expected 1 abandoned dead letter, got %v", got)
	}
	if got := testutil.ToFloat64(m.messagesDelivered.WithLabelValues("memory", "scan-responses", "orchestrator", "retry")); got != 1 {
		t.Errorf("expected 1 retry, got %v", got)
	}

	body := scrape(t, m)
	for _, name := range []string{
		"conductor_responses_total",
		"conductor_broker_messages_published_total",
		"conductor_broker_messages_delivered_total",
		"conductor_broker_messages_dead_lettered_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected metric %s in output", name)
		}
	}
}

func TestDisabledManagerRecordsNothing(t *testing.T) {
	m := NoOpManager()
	if m.Enabled() {
		t.Fatal("NoOpManager should not be enabled")
	}

	m.RecordWorkflowStarted("ingest")
	m.RecordWorkflowFinished("ingest", "FAILED", time.Second)
	m.RecordTaskExecution("local-call", "completed", time.Second)
	m.RecordResponse("response", "dropped")
	m.RecordMessagePublished("memory", "t")
	m.RecordMessageDelivered("memory", "t", "s", "ack")
	m.RecordMessageDeadLettered("memory", "t", "s")
	m.RecordHTTPRequest(context.Background(), http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
	m.IncInFlight()
	m.DecInFlight()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 when disabled, got %d", w.Code)
	}
	if err := m.StartServer(context.Background(), 0, "/metrics"); err != nil {
		t.Errorf("disabled StartServer must return nil, got %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartServer(t *testing.T) {
	m := NewManager(DefaultConfig())
	port := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.StartServer(ctx, port, "/metrics") }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/metrics"
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server did not stop")
	}
}

func BenchmarkRecordTaskExecution(b *testing.B) {
	m := NewManager(DefaultConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordTaskExecution("local-call", "completed", time.Millisecond)
	}
}

func BenchmarkNoOpRecording(b *testing.B) {
	m := NoOpManager()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordWorkflowStarted("ingest")
		m.RecordTaskExecution("local-call", "completed", time.Millisecond)
		m.RecordResponse("response", "completed")
	}
}
