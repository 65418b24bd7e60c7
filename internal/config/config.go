// Package config loads the engine configuration from a YAML file with
// environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the simulation engine.
type Config struct {
	Server     Server     `yaml:"server"`
	Database   Database   `yaml:"database"`
	Redis      Redis      `yaml:"redis"`
	Simulation Simulation `yaml:"simulation"`
}

// Server holds network listener configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Database holds the PostgreSQL connection string. Empty means the in-memory
// store is used (data will not persist).
type Database struct {
	URL string `yaml:"url"`
}

// Redis holds the cache/nudge-channel connection settings. Empty URL
// disables both the portfolio cache and the Redis nudge sink.
type Redis struct {
	URL          string `yaml:"url"`
	NudgeChannel string `yaml:"nudge_channel"`
}

// Simulation holds the business constants of the simulated ledger.
type Simulation struct {
	// StartingBalance is credited to every portfolio on first access.
	StartingBalance decimal.Decimal `yaml:"starting_balance"`

	// EarlyWithdrawalPenalty is the penalty rate (0–1) applied when a
	// commitment is withdrawn before its unlock date.
	EarlyWithdrawalPenalty decimal.Decimal `yaml:"early_withdrawal_penalty"`

	// AnnualGrowthRate is the assumed long-run average annual return used
	// by the impact projector. A documentation convention, not a market
	// prediction; adjust per product policy.
	AnnualGrowthRate float64 `yaml:"annual_growth_rate"`

	// DefaultHorizonYears is the projection horizon used when an
	// impact-analysis request omits one.
	DefaultHorizonYears int `yaml:"default_horizon_years"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{Port: "8080"},
		Redis:  Redis{NudgeChannel: "nudges"},
		Simulation: Simulation{
			StartingBalance:        decimal.NewFromInt(100000),
			EarlyWithdrawalPenalty: decimal.NewFromFloat(0.10),
			AnnualGrowthRate:       0.07,
			DefaultHorizonYears:    10,
		},
	}
}

// Load reads the YAML configuration file at the given path (if non-empty),
// merges it over the defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Environment overrides for deployment wiring.
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("NUDGE_CHANNEL"); v != "" {
		cfg.Redis.NudgeChannel = v
	}

	if cfg.Simulation.StartingBalance.IsNegative() {
		return nil, fmt.Errorf("config: starting_balance must be non-negative")
	}
	penalty := cfg.Simulation.EarlyWithdrawalPenalty
	if penalty.IsNegative() || penalty.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("config: early_withdrawal_penalty must be in [0, 1]")
	}

	return cfg, nil
}
