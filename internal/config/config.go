// Package config loads the stratbook service configuration from YAML with
// ${ENV_VAR} expansion, validates it, and fills defaults.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"stratbook/internal/snapshot"
)

// Config is the full service configuration.
type Config struct {
	Strat struct {
		ID           string `yaml:"id"`
		BuySecurity  string `yaml:"buy_security"`
		SellSecurity string `yaml:"sell_security"`
		// Fresh marks a first launch (create derived entities); false
		// means crash recovery (hydrate from the store).
		Fresh bool `yaml:"fresh"`
		// InitialState is the lifecycle state a fresh launch starts in.
		InitialState string `yaml:"initial_state"`
	} `yaml:"strat"`

	Limits struct {
		MaxSingleLegNotional     float64 `yaml:"max_single_leg_notional"`
		MaxOpenSingleLegNotional float64 `yaml:"max_open_single_leg_notional"`
		MaxNetFilledNotional     float64 `yaml:"max_net_filled_notional"`
		MaxConcentration         float64 `yaml:"max_concentration"`
		MaxCancelRate            float64 `yaml:"max_cancel_rate"`
		WaivedMinOrders          int64   `yaml:"waived_min_orders"`
		MaxParticipationRate     float64 `yaml:"max_participation_rate"`
		ApplicableWindowSeconds  int64   `yaml:"applicable_window_seconds"`
		MaxResidual              float64 `yaml:"max_residual"`
	} `yaml:"limits"`

	Portfolio struct {
		// MaxOverallNotional caps buy+sell open notional across all
		// strategies. Zero disables the portfolio-level check.
		MaxOverallNotional float64 `yaml:"max_overall_notional"`
	} `yaml:"portfolio"`

	Postgres struct {
		DSN           string `yaml:"dsn"`
		MaxOpenConns  int    `yaml:"max_open_conns"`
		MaxIdleConns  int    `yaml:"max_idle_conns"`
		MigrationsDir string `yaml:"migrations_dir"`
	} `yaml:"postgres"`

	NATS struct {
		URL            string `yaml:"url"`
		EventBuffer    int    `yaml:"event_buffer"`
		OutboundBuffer int    `yaml:"outbound_buffer"`
	} `yaml:"nats"`

	Feed struct {
		URL string `yaml:"url"`
		// TradeBatchSize and TradeFlushMs shape the market-trade batch
		// writer feeding the participation window.
		TradeBuffer        int   `yaml:"trade_buffer"`
		TradeBatchSize     int   `yaml:"trade_batch_size"`
		TradeFlushMs       int   `yaml:"trade_flush_ms"`
		TradeRetentionSecs int64 `yaml:"trade_retention_seconds"`
	} `yaml:"feed"`

	Readiness struct {
		ProbeIntervalSeconds int64 `yaml:"probe_interval_seconds"`
		ProbeTimeoutSeconds  int64 `yaml:"probe_timeout_seconds"`
	} `yaml:"readiness"`

	Server struct {
		HTTPAddr    string `yaml:"http_addr"`
		GRPCAddr    string `yaml:"grpc_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
		// File enables rotating file output alongside stderr when set.
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"logging"`
}

// Load reads, env-expands, parses, and validates the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Strat.ID == "" {
		return fmt.Errorf("strat.id is required")
	}
	if c.Strat.BuySecurity == "" || c.Strat.SellSecurity == "" {
		return fmt.Errorf("strat.buy_security and strat.sell_security are required")
	}
	if c.Strat.BuySecurity == c.Strat.SellSecurity {
		return fmt.Errorf("strat legs must be distinct securities")
	}
	if c.Strat.InitialState == "" {
		c.Strat.InitialState = "READY"
	}

	if c.Limits.MaxSingleLegNotional <= 0 {
		return fmt.Errorf("limits.max_single_leg_notional must be positive")
	}
	if c.Limits.MaxResidual <= 0 {
		return fmt.Errorf("limits.max_residual must be positive")
	}
	if c.Limits.ApplicableWindowSeconds <= 0 {
		c.Limits.ApplicableWindowSeconds = 300
	}

	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Postgres.MaxOpenConns <= 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns <= 0 {
		c.Postgres.MaxIdleConns = 5
	}
	if c.Postgres.MigrationsDir == "" {
		c.Postgres.MigrationsDir = "migrations"
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.EventBuffer <= 0 {
		c.NATS.EventBuffer = 1024
	}
	if c.NATS.OutboundBuffer <= 0 {
		c.NATS.OutboundBuffer = 4096
	}

	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.TradeBuffer <= 0 {
		c.Feed.TradeBuffer = 8192
	}
	if c.Feed.TradeBatchSize <= 0 {
		c.Feed.TradeBatchSize = 100
	}
	if c.Feed.TradeFlushMs <= 0 {
		c.Feed.TradeFlushMs = 250
	}
	if c.Feed.TradeRetentionSecs <= 0 {
		// Keep one hour of ticks; the participation window must fit inside.
		c.Feed.TradeRetentionSecs = 3600
	}
	if c.Feed.TradeRetentionSecs < c.Limits.ApplicableWindowSeconds {
		return fmt.Errorf("feed.trade_retention_seconds must cover limits.applicable_window_seconds")
	}

	if c.Readiness.ProbeIntervalSeconds <= 0 {
		c.Readiness.ProbeIntervalSeconds = 30
	}
	if c.Readiness.ProbeTimeoutSeconds <= 0 {
		c.Readiness.ProbeTimeoutSeconds = 10
	}

	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}

	return nil
}

// StratLimits converts the limits section to the persisted entity.
func (c *Config) StratLimits() snapshot.StratLimits {
	return snapshot.StratLimits{
		ID:                       c.Strat.ID,
		MaxSingleLegNotional:     c.Limits.MaxSingleLegNotional,
		MaxOpenSingleLegNotional: c.Limits.MaxOpenSingleLegNotional,
		MaxNetFilledNotional:     c.Limits.MaxNetFilledNotional,
		MaxConcentration:         c.Limits.MaxConcentration,
		CancelRate: snapshot.CancelRateLimit{
			MaxCancelRate:   c.Limits.MaxCancelRate,
			WaivedMinOrders: c.Limits.WaivedMinOrders,
		},
		MarketParticipation: snapshot.ParticipationLimit{
			MaxParticipationRate: c.Limits.MaxParticipationRate,
			ApplicableWindow:     time.Duration(c.Limits.ApplicableWindowSeconds) * time.Second,
		},
		Residual: snapshot.ResidualRestriction{
			MaxResidual: c.Limits.MaxResidual,
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} references with environment values. Unset
// variables expand to the empty string so validation catches them.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(m)[1])
	})
}
