// Package config provides the typed configuration struct shared across the
// simulation host's components, loaded from environment variables with
// sane defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

// QueueConfig configures the Ring Queue.
type QueueConfig struct {
	Capacity int `env:"SIM_QUEUE_CAPACITY,default=1048576"`
}

// RecorderConfig configures the Recorder and its drain task.
type RecorderConfig struct {
	BatchSize        int           `env:"SIM_RECORDER_BATCH_SIZE,default=1000"`
	FlushInterval    time.Duration `env:"SIM_RECORDER_FLUSH_INTERVAL,default=100ms"`
	CompressionLevel string        `env:"SIM_RECORDER_COMPRESSION_LEVEL,default=fast"`
	MaxQueueSize     int           `env:"SIM_RECORDER_MAX_QUEUE_SIZE,default=1000000"`
}

// BlobStoreConfig configures the on-disk blob store.
type BlobStoreConfig struct {
	BaseDir string `env:"SIM_STORAGE_BASE_DIR,default=./data"`
}

// PoolConfig configures the Agent Pool.
type PoolConfig struct {
	Size int `env:"SIM_POOL_SIZE,default=64"`
}

// RuntimeConfig configures individual Agent Runtimes.
type RuntimeConfig struct {
	ExecuteTimeout  time.Duration `env:"SIM_RUNTIME_EXECUTE_TIMEOUT,default=300s"`
	ShutdownTimeout time.Duration `env:"SIM_RUNTIME_SHUTDOWN_TIMEOUT,default=5s"`
	KillTimeout     time.Duration `env:"SIM_RUNTIME_KILL_TIMEOUT,default=2s"`
}

// SandboxConfig configures default Resource Caps applied to spawned agents.
type SandboxConfig struct {
	CPUPercent    int    `env:"SIM_SANDBOX_CPU_PERCENT,default=100"`
	MemoryMB      int    `env:"SIM_SANDBOX_MEMORY_MB,default=512"`
	BandwidthMbps int    `env:"SIM_SANDBOX_BANDWIDTH_MBPS,default=100"`
	PreloadLibrary string `env:"SIM_SANDBOX_PRELOAD_LIBRARY"`
}

// InterceptorConfig configures the HTTP Interceptor.
type InterceptorConfig struct {
	ListenAddr       string `env:"SIM_PROXY_LISTEN_ADDR,default=127.0.0.1:8888"`
	LogHeaders       bool   `env:"SIM_PROXY_LOG_HEADERS,default=false"`
	LogBodies        bool   `env:"SIM_PROXY_LOG_BODIES,default=false"`
	MaxLoggedBodyLen int    `env:"SIM_PROXY_MAX_LOGGED_BODY,default=4096"`
}

// SchedulerConfig configures the work-stealing scheduler.
type SchedulerConfig struct {
	Workers int `env:"SIM_SCHEDULER_WORKERS,default=4"`
}

// LoggingConfig configures the ambient structured logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// Config aggregates every component's configuration. There is no CLI flag
// or multi-file loader here: this struct is assembled once from defaults
// and environment overrides and handed to the components that need it.
type Config struct {
	Queue       QueueConfig
	Recorder    RecorderConfig
	BlobStore   BlobStoreConfig
	Pool        PoolConfig
	Runtime     RuntimeConfig
	Sandbox     SandboxConfig
	Interceptor InterceptorConfig
	Scheduler   SchedulerConfig
	Logging     LoggingConfig
}

// Default returns a Config populated with the spec's documented defaults.
func Default() *Config {
	return &Config{
		Queue:    QueueConfig{Capacity: 1 << 20},
		Recorder: RecorderConfig{BatchSize: 1000, FlushInterval: 100 * time.Millisecond, CompressionLevel: "fast", MaxQueueSize: 1_000_000},
		BlobStore: BlobStoreConfig{BaseDir: "./data"},
		Pool:      PoolConfig{Size: 64},
		Runtime:   RuntimeConfig{ExecuteTimeout: 300 * time.Second, ShutdownTimeout: 5 * time.Second, KillTimeout: 2 * time.Second},
		Sandbox:   SandboxConfig{CPUPercent: 100, MemoryMB: 512, BandwidthMbps: 100, PreloadLibrary: ""},
		Interceptor: InterceptorConfig{
			ListenAddr:       "127.0.0.1:8888",
			LogHeaders:       false,
			LogBodies:        false,
			MaxLoggedBodyLen: 4096,
		},
		Scheduler: SchedulerConfig{Workers: 4},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config starting from Default and overlaying process
// environment variables. If a .env file exists in the working directory it
// is loaded first (silently skipped when absent); this is not a general
// config-file loader, only a convenience seed for local runs.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, simerrors.ConfigError("failed to decode environment configuration").WithDetails("cause", err.Error())
		}
	}
	return cfg, nil
}

// EnvOrDefault returns the named environment variable or def if unset/empty.
func EnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
