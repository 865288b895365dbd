// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string        `envconfig:"PORT" default:"8080"`
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	SQLitePath  string        `envconfig:"SQLITE_PATH"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	AutoMigrate bool          `envconfig:"AUTO_MIGRATE" default:"true"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`  // debug, info, warn, error
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"` // json or text

	// SettleJournals also writes the double-entry journal set on settlement.
	SettleJournals bool `envconfig:"SETTLE_JOURNALS" default:"true"`
	SummaryWorkers int  `envconfig:"SUMMARY_WORKERS" default:"4"`
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load() // .env is optional

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.SummaryWorkers < 1 {
		cfg.SummaryWorkers = 1
	}
	return cfg, nil
}

// SetupLogger installs the default slog logger.
func SetupLogger(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
