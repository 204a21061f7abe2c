package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/appstore/sim"
)

// Config is read from the environment, optionally seeded from a .env file.
type Config struct {
	DataDir            string        `env:"PURSE_DATA_DIR" envDefault:".purse"`
	UserID             string        `env:"PURSE_USER_ID"`
	CatalogFile        string        `env:"PURSE_CATALOG_FILE"`
	LogLevel           string        `env:"PURSE_LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"PURSE_LOG_FORMAT" envDefault:"text"`
	MetricsAddr        string        `env:"PURSE_METRICS_ADDR"`
	AuditLog           bool          `env:"PURSE_AUDIT_LOG" envDefault:"false"`
	PurchaseTimeout    time.Duration `env:"PURSE_PURCHASE_TIMEOUT" envDefault:"30s"`
	SimBehavior        string        `env:"PURSE_SIM_BEHAVIOR" envDefault:"approve"`
	MinStartingBalance int64         `env:"PURSE_MIN_STARTING_BALANCE" envDefault:"10"`
	MaxStartingBalance int64         `env:"PURSE_MAX_STARTING_BALANCE" envDefault:"30"`
}

func loadConfig(envFile string) (Config, error) {
	var cfg Config
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if _, err := parseBehavior(cfg.SimBehavior); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// parseBehavior maps the PURSE_SIM_BEHAVIOR names to simulated store
// outcomes.
func parseBehavior(name string) (sim.Behavior, error) {
	switch strings.ToLower(name) {
	case "", "approve":
		return sim.Approve, nil
	case "defer":
		return sim.Defer, nil
	case "cancel":
		return sim.Cancel, nil
	case "fail":
		return sim.Fail(appstore.CodeInvalid, "payment declined"), nil
	default:
		return sim.Behavior{}, fmt.Errorf("unknown sim behavior %q (approve, defer, cancel, fail)", name)
	}
}
