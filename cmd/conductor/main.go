// Command conductor runs the workflow orchestrator: it loads the workflow
// definitions, attaches to the broker and serves the control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/goclaw/conductor/config"
	"github.com/goclaw/conductor/pkg/api"
	"github.com/goclaw/conductor/pkg/api/handlers"
	"github.com/goclaw/conductor/pkg/broker"
	brokermemory "github.com/goclaw/conductor/pkg/broker/memory"
	brokerredis "github.com/goclaw/conductor/pkg/broker/redis"
	"github.com/goclaw/conductor/pkg/definition"
	"github.com/goclaw/conductor/pkg/functions"
	"github.com/goclaw/conductor/pkg/logger"
	"github.com/goclaw/conductor/pkg/metrics"
	"github.com/goclaw/conductor/pkg/orchestrator"
	"github.com/goclaw/conductor/pkg/storage"
	storagebadger "github.com/goclaw/conductor/pkg/storage/badger"
	storagememory "github.com/goclaw/conductor/pkg/storage/memory"
	storageredis "github.com/goclaw/conductor/pkg/storage/redis"
	"github.com/goclaw/conductor/pkg/telemetry/tracing"
	"github.com/goclaw/conductor/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	definitions = flag.String("definitions", "", "Override workflow definitions path")
	serverPort  = flag.Int("port", 0, "Override server port")
	logLevel    = flag.String("log-level", "", "Override log level")
	storageType = flag.String("storage", "", "Override storage backend (memory, badger, redis)")
	brokerType  = flag.String("broker", "", "Override broker transport (memory, redis)")
	debugMode   = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)
	logger.SetGlobal(log)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, log); err != nil {
		log.Error("conductor stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) logger.Logger {
	return logger.New(&logger.Config{
		Level:  logger.ParseLevel(cfg.Level),
		Format: cfg.Format,
		Output: cfg.Output,
	})
}

// run wires every component from cfg and blocks until ctx is cancelled or
// the HTTP server fails. Components are torn down in reverse order.
func run(ctx context.Context, cfg *config.Config, cfgPath string, log logger.Logger) error {
	log.Info("Starting conductor",
		"version", version.Version,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        cfg.App.Name,
		Version:     version.Version,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Tracing.Timeout+time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	metricsManager := metrics.NewManager(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	})
	broker.SetMetricsRecorder(metricsManager)
	defer broker.SetMetricsRecorder(nil)
	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	store, closeStore, err := newStore(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("Error closing storage", "error", err)
		}
	}()

	transport, closeTransport, err := newTransport(cfg.Broker, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeTransport(); err != nil {
			log.Error("Error closing broker", "error", err)
		}
	}()

	defs, err := definition.Load(cfg.Orchestrator.DefinitionsPath)
	if err != nil {
		return fmt.Errorf("load workflow definitions: %w", err)
	}
	registry := functions.NewRegistry()
	if err := functions.RegisterBuiltins(registry, log); err != nil {
		return fmt.Errorf("register builtin functions: %w", err)
	}

	svc, err := orchestrator.New(defs, store, transport, registry,
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(metricsManager),
		orchestrator.WithDefaultSubscription(cfg.Broker.DefaultSubscription),
		orchestrator.WithDeadLetterSuffix(cfg.Broker.DeadLetterSuffix),
	)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("Error closing orchestrator", "error", err)
		}
	}()

	if cfgPath != "" {
		watchConfig(ctx, cfgPath, log)
	}

	serverErr := make(chan error, 1)
	var httpServer *api.HTTPServer
	if cfg.Server.Enabled {
		httpServer = api.NewHTTPServer(cfg.Server, log, &api.Handlers{
			Execution: handlers.NewExecutionHandler(svc, log),
			Health:    handlers.NewHealthHandler(svc),
			Metrics:   metricsManager,
		})
		go func() {
			serverErr <- httpServer.Start()
		}()
	}

	log.Info("conductor is running",
		"workflows", len(defs.Workflows),
		"storage", cfg.Storage.Type,
		"broker", cfg.Broker.Type,
		"http_enabled", cfg.Server.Enabled,
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
	case err := <-serverErr:
		if err != nil {
			runErr = err
		}
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down HTTP server", "error", err)
		}
	}

	log.Info("conductor stopped")
	return runErr
}

// newStore opens the configured execution store. The returned close func
// also releases any client the store was built on.
func newStore(cfg config.StorageConfig, log logger.Logger) (storage.Store, func() error, error) {
	switch cfg.Type {
	case "badger":
		store, err := storagebadger.NewBadgerStorage(&storagebadger.Config{
			Path:              cfg.Badger.Path,
			SyncWrites:        cfg.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Badger.NumVersionsToKeep,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open badger storage: %w", err)
		}
		log.Info("Initialized Badger storage", "path", cfg.Badger.Path)
		return store, store.Close, nil
	case "redis":
		client := newRedisClient(cfg.Redis)
		store := storageredis.NewRedisStorage(client,
			storageredis.WithKeyPrefix(cfg.Redis.KeyPrefix),
			storageredis.WithTTL(cfg.Redis.TTL),
		)
		log.Info("Initialized Redis storage", "address", cfg.Redis.Address, "prefix", cfg.Redis.KeyPrefix)
		return store, func() error {
			return errors.Join(store.Close(), client.Close())
		}, nil
	case "memory", "":
		log.Info("Initialized memory storage")
		store := storagememory.NewMemoryStorage()
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// newTransport opens the configured broker transport.
func newTransport(cfg config.BrokerConfig, log logger.Logger) (broker.Transport, func() error, error) {
	switch cfg.Type {
	case "redis":
		client := newRedisClient(cfg.Redis)
		transport := brokerredis.New(client, &brokerredis.Config{
			StreamPrefix:     cfg.StreamPrefix,
			DeadLetterSuffix: cfg.DeadLetterSuffix,
			BlockTimeout:     cfg.BlockTimeout,
			LockDuration:     cfg.LockDuration,
			MaxDeliveries:    cfg.MaxDeliveries,
			BatchSize:        cfg.BatchSize,
			MaxLen:           cfg.MaxLen,
		}, log)
		log.Info("Initialized Redis broker", "address", cfg.Redis.Address, "stream_prefix", cfg.StreamPrefix)
		return transport, func() error {
			return errors.Join(transport.Close(), client.Close())
		}, nil
	case "memory", "":
		log.Info("Initialized memory broker")
		transport := brokermemory.New(&brokermemory.Config{
			MaxDeliveries:    cfg.MaxDeliveries,
			DeadLetterSuffix: cfg.DeadLetterSuffix,
		}, log)
		return transport, transport.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker type %q", cfg.Type)
	}
}

func newRedisClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// watchConfig applies log level changes from the config file while running.
func watchConfig(ctx context.Context, path string, log logger.Logger) {
	watcher, err := config.NewWatcher(path, nil, config.WithWatcherLogger(log))
	if err != nil {
		log.Warn("Config hot reload disabled", "error", err)
		return
	}
	watcher.OnChange(func(cfg *config.Config) {
		level := logger.ParseLevel(cfg.Log.Level)
		if level != log.GetLevel() {
			log.SetLevel(level)
			log.Info("Log level changed", "level", level.String())
		}
	})
	go func() {
		defer watcher.Stop()
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Config watcher stopped", "error", err)
		}
	}()
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *definitions != "" {
		overrides["orchestrator.definitions_path"] = *definitions
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *storageType != "" {
		overrides["storage.type"] = *storageType
	}
	if *brokerType != "" {
		overrides["broker.type"] = *brokerType
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printHelp() {
	fmt.Printf("conductor - configuration-driven workflow orchestrator\n\n")
	fmt.Printf("Usage: conductor [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  conductor -config conductor.yaml                 # Use specific config file\n")
	fmt.Printf("  conductor -definitions workflows.yaml -debug     # Override definitions path\n")
	fmt.Printf("  conductor -storage badger -broker redis          # Pick backends\n")
	fmt.Printf("  conductor -version                               # Print version info\n")
}
