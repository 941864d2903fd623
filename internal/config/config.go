// Package config loads and validates the sweeper process's configuration.
// Graph registration is not configuration — it happens in code, via
// Config.Graphs, which Load never fills; cmd/sweeper/main.go passes it to
// Catalog.RegisterAll as it is.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/flowkit/journey/internal/catalog"
)

type Config struct {
	Env string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// SweepIntervalSec is how often the background driver wakes to run the
	// schedule-fire, abandoned-computation, and recurring-reschedule sweeps
	// (spec §12).
	SweepIntervalSec int `env:"SWEEP_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=60"`
	// AdvanceWorkers caps how many touched executions the schedule-fire and
	// recurring-reschedule sweeps pick up per tick; each sweep handles them
	// one at a time.
	AdvanceWorkers int `env:"ADVANCE_WORKERS" envDefault:"10" validate:"min=1,max=200"`
	// GrabBatchSize caps how many stale computing rows the abandoned sweep
	// flips per tick. GrabReady itself has no per-call limit.
	GrabBatchSize int `env:"GRAB_BATCH_SIZE" envDefault:"100" validate:"min=1,max=1000"`
	// SweepOverlapSec widens the incremental-scan watermark backward to
	// tolerate clock skew between the app and the database (spec §4.10).
	SweepOverlapSec int `env:"SWEEP_OVERLAP_SEC" envDefault:"60" validate:"min=0,max=600"`
	// SweepLookbackFallbackSec bounds the very first sweep's lookback when
	// no prior sweep_run row exists yet.
	SweepLookbackFallbackSec int `env:"SWEEP_LOOKBACK_FALLBACK_SEC" envDefault:"3600" validate:"min=60"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// Graphs holds one factory per graph definition registered at startup
	// (spec §6's "graphs: [factory_fn, ...]"). cmd/sweeper/main.go does not
	// add any factories of its own, so the stock binary registers none.
	Graphs []catalog.Factory `env:"-" validate:"-"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
