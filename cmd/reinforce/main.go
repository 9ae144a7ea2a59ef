package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartridge/reinforce/internal/config"
	"github.com/cartridge/reinforce/internal/env"
)

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "reinforce",
		Short: "REINFORCE with baseline for continuous control",
		Long: `Trains or evaluates a Gaussian policy with a learned value baseline.

Built-in environments: ` + strings.Join(env.Builtins(), ", ") + `.
Any other id is created on the gym-http-api server given by --gym-addr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.Unmarshal(cfg); err != nil {
				return fmt.Errorf("failed to read configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	f := cmd.Flags()

	// Dispatch
	f.Bool("test", cfg.Test, "Evaluate with the mean action instead of training")

	// Reproducibility
	f.Int64("seed", cfg.Seed, "Random seed for the environment, network initialisation and sampling")
	f.String("run-id", cfg.RunID, "Run identifier (generated when empty)")

	// Episodes
	f.Int("episode-num", cfg.EpisodeNum, "Number of episodes")
	f.Int("max-episode-steps", cfg.MaxEpisodeSteps, "Step limit per episode (0 uses the environment's registered limit)")
	f.Bool("render", cfg.Render, "Render the environment")
	f.Int("render-after", cfg.RenderAfter, "First episode to render")

	// Checkpoints
	f.String("load-from", cfg.LoadFrom, "Checkpoint file to load before running")
	f.Int("save-period", cfg.SavePeriod, "Save a checkpoint every N training episodes")
	f.String("save-dir", cfg.SaveDir, "Checkpoint directory")

	// Environment
	f.String("env-id", cfg.EnvID, "Environment id")
	f.String("gym-addr", cfg.GymAddr, "gym-http-api server for environments that are not built in")
	f.Duration("gym-timeout", cfg.GymTimeout, "Timeout per gym server request")

	// Reporting
	f.Bool("log", cfg.Log, "Report metrics through the logger")
	f.String("status-addr", cfg.StatusAddr, "Listen address of the status server (disabled when empty)")
	f.String("database-url", cfg.DatabaseURL, "Postgres DSN for episode history (in memory when empty)")
	f.Uint64("history-size", cfg.HistorySize, "Episodes kept in the history across runs (0 keeps all)")
	f.String("nats-url", cfg.NATSURL, "NATS server for episode events (disabled when empty)")
	f.String("nats-subject", cfg.NATSSubject, "Base NATS subject")

	// Logging
	f.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	// Bind flags to viper for environment variable support
	_ = v.BindPFlags(f)
	v.SetEnvPrefix("REINFORCE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
}

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: failed to load .env: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
