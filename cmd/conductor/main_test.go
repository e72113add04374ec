package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goclaw/conductor/config"
	"github.com/goclaw/conductor/pkg/logger"
)

const testWorkflows = `
workflows:
  - name: hello
    tasks:
      - name: say
        task_reference_name: say_ref
        type: local-call
        function: log
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	if err := os.WriteFile(path, []byte(testWorkflows), 0o644); err != nil {
		t.Fatalf("failed to write definitions: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Orchestrator.DefinitionsPath = path
	cfg.Metrics.Enabled = false
	cfg.Server.Enabled = false
	cfg.Server.ShutdownTimeout = time.Second
	return cfg
}

func quietLogger() logger.Logger {
	return logger.NewWithWriter(&logger.Config{Level: logger.ErrorLevel, Format: "json"}, &bytes.Buffer{})
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, "", quietLogger()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestRun_ServesAPI(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = true
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, "", quietLogger()) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	var resp *http.Response
	var err error
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(base + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server did not come up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Post(base+"/v1/workflows/hello/executions", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("start status = %d, want 201", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestRun_MissingDefinitions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.DefinitionsPath = filepath.Join(t.TempDir(), "missing.yaml")

	err := run(context.Background(), cfg, "", quietLogger())
	if err == nil || !strings.Contains(err.Error(), "load workflow definitions") {
		t.Fatalf("expected a definitions error, got %v", err)
	}
}

func TestNewStore(t *testing.T) {
	log := quietLogger()

	t.Run("memory", func(t *testing.T) {
		store, closeFn, err := newStore(config.StorageConfig{Type: "memory"}, log)
		if err != nil || store == nil {
			t.Fatalf("newStore() = %v, %v", store, err)
		}
		if err := closeFn(); err != nil {
			t.Errorf("close error = %v", err)
		}
	})

	t.Run("badger", func(t *testing.T) {
		cfg := config.DefaultConfig().Storage
		cfg.Type = "badger"
		cfg.Badger.Path = t.TempDir()
		cfg.Badger.SyncWrites = false

		store, closeFn, err := newStore(cfg, log)
		if err != nil || store == nil {
			t.Fatalf("newStore() = %v, %v", store, err)
		}
		if err := closeFn(); err != nil {
			t.Errorf("close error = %v", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, _, err := newStore(config.StorageConfig{Type: "etcd"}, log); err == nil {
			t.Error("expected an error for an unknown storage type")
		}
	})
}

func TestNewTransport(t *testing.T) {
	log := quietLogger()

	transport, closeFn, err := newTransport(config.DefaultConfig().Broker, log)
	if err != nil || transport == nil {
		t.Fatalf("newTransport() = %v, %v", transport, err)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close error = %v", err)
	}

	if _, _, err := newTransport(config.BrokerConfig{Type: "kafka"}, log); err == nil {
		t.Error("expected an error for an unknown broker type")
	}
}

func TestBuildOverrides(t *testing.T) {
	origPort, origLevel, origStorage, origDebug := *serverPort, *logLevel, *storageType, *debugMode
	t.Cleanup(func() {
		*serverPort, *logLevel, *storageType, *debugMode = origPort, origLevel, origStorage, origDebug
	})

	if got := buildOverrides(); len(got) != 0 {
		t.Fatalf("expected no overrides, got %v", got)
	}

	*serverPort = 9090
	*logLevel = "debug"
	*storageType = "badger"
	*debugMode = true

	got := buildOverrides()
	if got["server.port"] != 9090 || got["log.level"] != "debug" || got["storage.type"] != "badger" || got["app.debug"] != true {
		t.Errorf("unexpected overrides: %v", got)
	}
}

func TestWatchConfig_AppliesLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	defsPath := filepath.Join(t.TempDir(), "workflows.yaml")
	write := func(level string) {
		body := fmt.Sprintf("orchestrator:\n  definitions_path: %s\nlog:\n  level: %s\n", defsPath, level)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
	}
	write("info")

	log := logger.NewWithWriter(&logger.Config{Level: logger.InfoLevel, Format: "json"}, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchConfig(ctx, path, log)

	time.Sleep(200 * time.Millisecond)
	write("error")

	deadline := time.Now().Add(3 * time.Second)
	for log.GetLevel() != logger.ErrorLevel && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if log.GetLevel() != logger.ErrorLevel {
		t.Errorf("log level = %s, want error", log.GetLevel())
	}
}
