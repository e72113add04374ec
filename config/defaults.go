package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "conductor",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 0,
				Burst:             50,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Orchestrator: OrchestratorConfig{
			DefinitionsPath: "workflows.yaml",
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1073741824, // 1GB
				NumVersionsToKeep: 1,
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "conductor:",
			},
		},
		Broker: BrokerConfig{
			Type:                "memory",
			DefaultSubscription: "conductor",
			DeadLetterSuffix:    "/$deadletterqueue",
			MaxDeliveries:       10,
			LockDuration:        30 * time.Second,
			BlockTimeout:        2 * time.Second,
			StreamPrefix:        "conductor:stream:",
			BatchSize:           16,
			MaxLen:              100000,
			Redis: RedisConfig{
				Address: "localhost:6379",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
	}
}
