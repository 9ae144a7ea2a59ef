package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all run configuration
type Config struct {
	// Dispatch
	Test bool `mapstructure:"test"`

	// Reproducibility
	Seed  int64  `mapstructure:"seed"`
	RunID string `mapstructure:"run-id"`

	// Episode management
	EpisodeNum      int  `mapstructure:"episode-num"`
	MaxEpisodeSteps int  `mapstructure:"max-episode-steps"`
	Render          bool `mapstructure:"render"`
	RenderAfter     int  `mapstructure:"render-after"`

	// Checkpoints
	LoadFrom   string `mapstructure:"load-from"`
	SavePeriod int    `mapstructure:"save-period"`
	SaveDir    string `mapstructure:"save-dir"`

	// Environment
	EnvID      string        `mapstructure:"env-id"`
	GymAddr    string        `mapstructure:"gym-addr"`
	GymTimeout time.Duration `mapstructure:"gym-timeout"`

	// Reporting
	Log         bool   `mapstructure:"log"`
	StatusAddr  string `mapstructure:"status-addr"`
	DatabaseURL string `mapstructure:"database-url"`
	HistorySize uint64 `mapstructure:"history-size"`
	NATSURL     string `mapstructure:"nats-url"`
	NATSSubject string `mapstructure:"nats-subject"`

	// Logging
	LogLevel string `mapstructure:"log-level"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Seed:            777,
		EpisodeNum:      1500,
		MaxEpisodeSteps: 300,
		RenderAfter:     0,
		SavePeriod:      200,
		SaveDir:         "save",
		EnvID:           "Pendulum-v0",
		GymTimeout:      30 * time.Second,
		HistorySize:     10000,
		NATSSubject:     "reinforce",
		LogLevel:        "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.EnvID == "" {
		return fmt.Errorf("env-id is required")
	}
	if c.EpisodeNum <= 0 {
		return fmt.Errorf("episode-num must be positive")
	}
	if c.MaxEpisodeSteps < 0 {
		return fmt.Errorf("max-episode-steps must not be negative")
	}
	if c.RenderAfter < 0 {
		return fmt.Errorf("render-after must not be negative")
	}
	if c.SavePeriod <= 0 {
		return fmt.Errorf("save-period must be positive")
	}
	if !c.Test && c.SaveDir == "" {
		return fmt.Errorf("save-dir is required for training")
	}
	if c.GymAddr != "" && c.GymTimeout <= 0 {
		return fmt.Errorf("gym-timeout must be positive")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats-subject is required when nats-url is set")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level %q: %w", c.LogLevel, err)
	}
	return nil
}

// ShouldRender reports whether the given episode is rendered.
func (c *Config) ShouldRender(episode int) bool {
	return c.Render && episode >= c.RenderAfter
}
