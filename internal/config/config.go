package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr string `env:"ORACLED_LISTEN_ADDR"`
	DBPath     string `env:"ORACLED_DB_PATH"`
	Debug      bool   `env:"ORACLED_DEBUG"`

	// ResponseThreshold gates which significance scores reach the
	// dispatcher. Events below it never produce a response.
	ResponseThreshold float64 `env:"ORACLED_RESPONSE_THRESHOLD"`

	// GeneratorTimeout bounds the external notification generator call.
	GeneratorTimeout time.Duration `env:"ORACLED_GENERATOR_TIMEOUT"`

	// LivenessPollInterval drives the detached-window liveness check.
	// Window close is not reliably pushed by the hosting environment, so
	// the bridge polls.
	LivenessPollInterval time.Duration `env:"ORACLED_LIVENESS_POLL_INTERVAL"`

	// SinkQueueSize bounds the fire-and-forget journal queue; overflow
	// drops, never blocks the pipeline.
	SinkQueueSize int `env:"ORACLED_SINK_QUEUE_SIZE"`

	EventRetentionTTL    time.Duration `env:"ORACLED_EVENT_RETENTION_TTL"`
	ResponseRetentionTTL time.Duration `env:"ORACLED_RESPONSE_RETENTION_TTL"`
	RetentionInterval    time.Duration `env:"ORACLED_RETENTION_INTERVAL"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:           "127.0.0.1:8787",
		DBPath:               defaultDBPath(),
		ResponseThreshold:    0.5,
		GeneratorTimeout:     10 * time.Second,
		LivenessPollInterval: 1 * time.Second,
		SinkQueueSize:        256,
		EventRetentionTTL:    7 * 24 * time.Hour,
		ResponseRetentionTTL: 14 * 24 * time.Hour,
		RetentionInterval:    1 * time.Hour,
	}
}

// FromEnv returns the default configuration with environment overrides
// applied.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	if cfg.ResponseThreshold < 0 || cfg.ResponseThreshold > 1 {
		return Config{}, fmt.Errorf("response threshold %v out of [0,1]", cfg.ResponseThreshold)
	}
	if cfg.LivenessPollInterval <= 0 {
		cfg.LivenessPollInterval = DefaultConfig().LivenessPollInterval
	}
	if cfg.SinkQueueSize <= 0 {
		cfg.SinkQueueSize = DefaultConfig().SinkQueueSize
	}
	return cfg, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "oracled.db"
	}
	return filepath.Join(home, ".local", "state", "oracled", "journal.db")
}
