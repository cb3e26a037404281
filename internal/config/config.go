// Package config loads static process configuration from the environment
// and builds the root logger. Runtime-tunable knobs live in the
// settings store, not here.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds process-level configuration. Priority: ENV vars > .env
// file > defaults.
type Config struct {
	// Surfaces
	HTTPAddr string `env:"TTM_HTTP_ADDR" envDefault:":8000"`

	// Storage
	DatabaseDSN string `env:"TTM_DATABASE_DSN"`
	UseMemory   bool   `env:"TTM_USE_MEMORY" envDefault:"false"`

	// Upstreams
	DexBaseURL      string `env:"TTM_DEX_BASE_URL" envDefault:"https://api.dexscreener.com"`
	MigrationWSURL  string `env:"TTM_MIGRATION_WS_URL" envDefault:"wss://pumpportal.fun/api/data"`
	SolanaRPCURL    string `env:"TTM_SOLANA_RPC_URL" envDefault:"https://api.mainnet-beta.solana.com"`
	NATSEnabledURL  string `env:"TTM_NATS_URL"` // empty disables event publishing
	ExportPath      string `env:"TTM_NOTARB_EXPORT_PATH" envDefault:"notarb_pools.json"`
	ExportGenerator string `env:"TTM_EXPORT_GENERATOR" envDefault:"tothemoon"`

	// DEX client instances
	DexMinCallGap      time.Duration `env:"TTM_DEX_MIN_CALL_GAP" envDefault:"500ms"`
	DexRetryBudget     time.Duration `env:"TTM_DEX_RETRY_BUDGET" envDefault:"10s"`
	DexBreakerFailures uint32        `env:"TTM_DEX_BREAKER_FAILURES" envDefault:"5"`
	DexBreakerCooldown time.Duration `env:"TTM_DEX_BREAKER_COOLDOWN" envDefault:"30s"`
	HotTimeout         time.Duration `env:"TTM_HOT_TIMEOUT" envDefault:"3s"`
	ColdTimeout        time.Duration `env:"TTM_COLD_TIMEOUT" envDefault:"5s"`
	HotCacheTTL        time.Duration `env:"TTM_HOT_CACHE_TTL" envDefault:"15s"`
	ColdCacheTTL       time.Duration `env:"TTM_COLD_CACHE_TTL" envDefault:"30s"`

	// Scheduler
	ActivationInterval time.Duration `env:"TTM_ACTIVATION_INTERVAL" envDefault:"60s"`
	ArchivalInterval   time.Duration `env:"TTM_ARCHIVAL_INTERVAL" envDefault:"1h"`
	SpamInterval       time.Duration `env:"TTM_SPAM_INTERVAL" envDefault:"5s"`
	ExportInterval     time.Duration `env:"TTM_EXPORT_INTERVAL" envDefault:"5s"`

	HotConcurrency        int `env:"TTM_HOT_CONCURRENCY" envDefault:"12"`
	ColdConcurrency       int `env:"TTM_COLD_CONCURRENCY" envDefault:"8"`
	ActivationConcurrency int `env:"TTM_ACTIVATION_CONCURRENCY" envDefault:"4"`
	SpamConcurrency       int `env:"TTM_SPAM_CONCURRENCY" envDefault:"3"`

	MinBatchSize     int `env:"TTM_MIN_BATCH_SIZE" envDefault:"25"`
	MaxBatchSize     int `env:"TTM_MAX_BATCH_SIZE" envDefault:"500"`
	SelectionCap     int `env:"TTM_SELECTION_CAP" envDefault:"5000"`
	DeferredCapacity int `env:"TTM_DEFERRED_CAPACITY" envDefault:"2000"`
	DeferredDrainMax int `env:"TTM_DEFERRED_DRAIN_MAX" envDefault:"100"`
	ExportCandidates int `env:"TTM_EXPORT_CANDIDATES" envDefault:"50"`
	ExportTopN       int `env:"TTM_EXPORT_TOP_N" envDefault:"3"`

	// Under-load knobs
	MaxConcurrentUnderLoad int           `env:"TTM_MAX_CONCURRENT_UNDER_LOAD" envDefault:"4"`
	TimeoutUnderLoad       time.Duration `env:"TTM_TIMEOUT_UNDER_LOAD" envDefault:"1500ms"`

	// Spam analyzer
	SpamSignatureLimit int           `env:"TTM_SPAM_SIGNATURE_LIMIT" envDefault:"20"`
	SpamRPCTimeout     time.Duration `env:"TTM_SPAM_RPC_TIMEOUT" envDefault:"15s"`

	// Migration listener
	ListenerMaxEvents int `env:"TTM_LISTENER_MAX_EVENTS" envDefault:"0"` // 0 = unlimited

	// Load monitor thresholds, percent. The class is "low" only when both
	// CPU and memory are under their low marks.
	MonitorInterval time.Duration `env:"TTM_MONITOR_INTERVAL" envDefault:"10s"`
	CPULowPct       float64       `env:"TTM_CPU_LOW_PCT" envDefault:"40"`
	CPUMediumPct    float64       `env:"TTM_CPU_MEDIUM_PCT" envDefault:"65"`
	CPUHighPct      float64       `env:"TTM_CPU_HIGH_PCT" envDefault:"80"`
	MemLowPct       float64       `env:"TTM_MEM_LOW_PCT" envDefault:"60"`
	MemMediumPct    float64       `env:"TTM_MEM_MEDIUM_PCT" envDefault:"75"`
	MemHighPct      float64       `env:"TTM_MEM_HIGH_PCT" envDefault:"85"`
	StaleAgeFactor  int           `env:"TTM_STALE_AGE_FACTOR" envDefault:"3"` // x hot interval

	// Lifecycle
	ShutdownGrace    time.Duration `env:"TTM_SHUTDOWN_GRACE" envDefault:"10s"`
	SettingsCacheTTL time.Duration `env:"TTM_SETTINGS_CACHE_TTL" envDefault:"15s"`

	// Logging
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the
// environment, then validates it.
func Load() (*Config, error) {
	// Missing .env is fine; production supplies real environment variables.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges, enums and cross-field constraints.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("TTM_HTTP_ADDR is required")
	}
	if !c.UseMemory && c.DatabaseDSN == "" {
		return fmt.Errorf("TTM_DATABASE_DSN is required unless TTM_USE_MEMORY=true")
	}
	if c.MinBatchSize < 1 {
		return fmt.Errorf("TTM_MIN_BATCH_SIZE must be > 0, got %d", c.MinBatchSize)
	}
	if c.MaxBatchSize < c.MinBatchSize {
		return fmt.Errorf("TTM_MAX_BATCH_SIZE (%d) must be >= TTM_MIN_BATCH_SIZE (%d)",
			c.MaxBatchSize, c.MinBatchSize)
	}
	if c.SelectionCap < c.MaxBatchSize {
		return fmt.Errorf("TTM_SELECTION_CAP (%d) must be >= TTM_MAX_BATCH_SIZE (%d)",
			c.SelectionCap, c.MaxBatchSize)
	}
	for name, v := range map[string]int{
		"TTM_HOT_CONCURRENCY":        c.HotConcurrency,
		"TTM_COLD_CONCURRENCY":       c.ColdConcurrency,
		"TTM_ACTIVATION_CONCURRENCY": c.ActivationConcurrency,
		"TTM_SPAM_CONCURRENCY":       c.SpamConcurrency,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be > 0, got %d", name, v)
		}
	}
	if !ascending(c.CPULowPct, c.CPUMediumPct, c.CPUHighPct) {
		return fmt.Errorf("CPU thresholds must ascend: low %.0f < medium %.0f < high %.0f",
			c.CPULowPct, c.CPUMediumPct, c.CPUHighPct)
	}
	if !ascending(c.MemLowPct, c.MemMediumPct, c.MemHighPct) {
		return fmt.Errorf("memory thresholds must ascend: low %.0f < medium %.0f < high %.0f",
			c.MemLowPct, c.MemMediumPct, c.MemHighPct)
	}
	if c.ExportTopN < 1 {
		return fmt.Errorf("TTM_EXPORT_TOP_N must be > 0, got %d", c.ExportTopN)
	}
	if c.SpamSignatureLimit < 1 {
		return fmt.Errorf("TTM_SPAM_SIGNATURE_LIMIT must be > 0, got %d", c.SpamSignatureLimit)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

func ascending(a, b, c float64) bool {
	return a > 0 && a < b && b < c && c <= 100
}

// LogConfig dumps the effective configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("http_addr", c.HTTPAddr).
		Bool("use_memory", c.UseMemory).
		Str("dex_base_url", c.DexBaseURL).
		Str("migration_ws_url", c.MigrationWSURL).
		Str("solana_rpc_url", c.SolanaRPCURL).
		Bool("nats_enabled", c.NATSEnabledURL != "").
		Str("export_path", c.ExportPath).
		Int("hot_concurrency", c.HotConcurrency).
		Int("cold_concurrency", c.ColdConcurrency).
		Int("min_batch_size", c.MinBatchSize).
		Int("max_batch_size", c.MaxBatchSize).
		Int("selection_cap", c.SelectionCap).
		Int("deferred_capacity", c.DeferredCapacity).
		Dur("monitor_interval", c.MonitorInterval).
		Dur("shutdown_grace", c.ShutdownGrace).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
