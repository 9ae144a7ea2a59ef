package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cartridge/reinforce/internal/agent"
	"github.com/cartridge/reinforce/internal/config"
	"github.com/cartridge/reinforce/internal/env"
	"github.com/cartridge/reinforce/internal/events"
	httpServer "github.com/cartridge/reinforce/internal/http"
	"github.com/cartridge/reinforce/internal/metrics"
	"github.com/cartridge/reinforce/internal/runner"
	"github.com/cartridge/reinforce/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// run wires the environment and reporting sinks, then runs the agent and,
// when configured, the status server until training ends or ctx is done.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	logger = logger.With().Str("env_id", cfg.EnvID).Logger()

	e, stateDim, actionDim, err := makeEnv(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close environment")
		}
	}()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	pruneHistory(ctx, store, cfg.HistorySize, logger)
	defer pruneHistory(context.WithoutCancel(ctx), store, cfg.HistorySize, logger)

	publisher, closePublisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	collector := metrics.NewCollector(logger, cfg.Log)
	tracker := agent.NewTracker()

	r := runner.New(
		runner.WithLogger(logger),
		runner.WithAgentOptions(
			agent.WithLogger(logger),
			agent.WithStorage(store),
			agent.WithPublisher(publisher),
			agent.WithMetrics(collector),
			agent.WithTracker(tracker),
		),
	)

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.StatusAddr != "" {
		srv = &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           httpServer.NewServer(tracker, store, collector.Registry(), logger).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.StatusAddr).Msg("Status server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		err := r.Run(gctx, e, cfg, stateDim, actionDim)
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Error().Err(serr).Msg("Graceful shutdown failed")
			}
		}
		return err
	})

	return g.Wait()
}

// makeEnv creates, seeds and wraps the environment and reads its dimensions.
func makeEnv(cfg *config.Config, logger zerolog.Logger) (env.Env, int, int, error) {
	base, err := env.Make(cfg.EnvID, env.Options{
		GymAddr: cfg.GymAddr,
		Timeout: cfg.GymTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, 0, 0, err
	}
	base.Seed(cfg.Seed)

	maxSteps := cfg.MaxEpisodeSteps
	if maxSteps == 0 {
		maxSteps = env.MaxEpisodeSteps(cfg.EnvID)
	}

	stateDim := base.ObservationSpace().Dim()
	actionDim := base.ActionSpace().Dim()
	wrapped := env.NewTimeLimit(env.NormalizeActions{Env: base}, maxSteps)

	logger.Info().
		Int("state_dim", stateDim).
		Int("action_dim", actionDim).
		Int("max_episode_steps", maxSteps).
		Msg("Environment ready")
	return wrapped, stateDim, actionDim, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if cfg.DatabaseURL == "" {
		return storage.NewMemoryBackend(cfg.HistorySize), nil
	}
	store, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// pruneHistory keeps the newest keep episodes across all runs. 0 keeps all.
func pruneHistory(ctx context.Context, store storage.Backend, keep uint64, logger zerolog.Logger) {
	if keep == 0 {
		return
	}
	if keep > math.MaxUint32 {
		keep = math.MaxUint32
	}
	cleared, err := store.Clear(ctx, "", nil, uint32(keep))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to prune episode history")
		return
	}
	if cleared > 0 {
		logger.Info().Uint64("cleared", cleared).Uint64("kept", keep).Msg("Pruned episode history")
	}
}

func openPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, func(), error) {
	if cfg.NATSURL == "" {
		return events.NoopPublisher{}, func() {}, nil
	}
	pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
	if err != nil {
		return nil, nil, err
	}
	return pub, pub.Close, nil
}
