package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cartridge/reinforce/internal/events"
	"github.com/cartridge/reinforce/internal/storage"
)

// episodeResult summarises one finished episode.
type episodeResult struct {
	episode    int
	steps      int
	score      float64
	policyLoss float64
	valueLoss  float64
}

// Train runs settings.EpisodeNum episodes, updating both networks after each
// one and saving a checkpoint every settings.SavePeriod episodes.
func (a *Agent) Train(ctx context.Context) (err error) {
	a.begin(ctx, storage.ModeTrain)
	defer func() { a.end(ctx, storage.ModeTrain, err) }()

	if a.metrics != nil {
		a.metrics.HyperParameters(a.hyper.Map())
	}

	lastSaved := 0
	for ep := 1; ep <= a.cfg.EpisodeNum; ep++ {
		steps, score, err := a.runEpisode(ctx, ep)
		if err != nil {
			return err
		}

		policyLoss, valueLoss, err := a.UpdateModel()
		if err != nil {
			return fmt.Errorf("episode %d update: %w", ep, err)
		}

		a.record(ctx, storage.ModeTrain, episodeResult{
			episode:    ep,
			steps:      steps,
			score:      score,
			policyLoss: policyLoss,
			valueLoss:  valueLoss,
		})

		if ep%a.cfg.SavePeriod == 0 {
			if _, err := a.SaveParams(ep); err != nil {
				return err
			}
			lastSaved = ep
		}
	}

	if lastSaved != a.cfg.EpisodeNum {
		if _, err := a.SaveParams(a.cfg.EpisodeNum); err != nil {
			return err
		}
	}
	return nil
}

// Test runs settings.EpisodeNum episodes with the mean action and no updates.
func (a *Agent) Test(ctx context.Context) (err error) {
	a.begin(ctx, storage.ModeTest)
	defer func() { a.end(ctx, storage.ModeTest, err) }()

	for ep := 1; ep <= a.cfg.EpisodeNum; ep++ {
		steps, score, err := a.runEpisode(ctx, ep)
		if err != nil {
			return err
		}
		a.record(ctx, storage.ModeTest, episodeResult{episode: ep, steps: steps, score: score})
	}
	return nil
}

// runEpisode plays one episode to termination.
func (a *Agent) runEpisode(ctx context.Context, ep int) (int, float64, error) {
	a.resetEpisode()

	state, err := a.env.Reset()
	if err != nil {
		return 0, 0, fmt.Errorf("episode %d reset: %w", ep, err)
	}

	render := a.cfg.ShouldRender(ep)
	steps, score := 0, 0.0
	for done := false; !done; {
		if err := ctx.Err(); err != nil {
			return steps, score, err
		}
		if render {
			if err := a.env.Render(); err != nil {
				a.logger.Warn().Err(err).Int("episode", ep).Msg("Render failed")
				render = false
			}
		}

		action := a.SelectAction(state)
		var reward float64
		state, reward, done, err = a.Step(action)
		if err != nil {
			return steps, score, fmt.Errorf("episode %d: %w", ep, err)
		}
		score += reward
		steps++
	}
	return steps, score, nil
}

// record logs a finished episode and forwards it to every configured sink.
// Sink failures are logged and never abort the run.
func (a *Agent) record(ctx context.Context, mode storage.Mode, r episodeResult) {
	ev := a.logger.Info().
		Str("mode", string(mode)).
		Int("episode", r.episode).
		Int("steps", r.steps).
		Float64("score", r.score)
	if mode == storage.ModeTrain {
		ev = ev.Float64("total_loss", r.policyLoss+r.valueLoss).
			Float64("policy_loss", r.policyLoss).
			Float64("value_loss", r.valueLoss)
	}
	ev.Msg("Episode finished")

	a.status.episode(r.episode, r.score, r.policyLoss, r.valueLoss)

	if a.metrics != nil {
		if mode == storage.ModeTrain {
			a.metrics.TrainEpisode(r.episode, r.steps, r.score, r.policyLoss, r.valueLoss)
		} else {
			a.metrics.TestEpisode(r.episode, r.steps, r.score)
		}
	}

	if a.store != nil {
		rec := &storage.EpisodeRecord{
			RunID:      a.runID,
			Mode:       mode,
			Episode:    r.episode,
			Steps:      r.steps,
			Score:      r.score,
			PolicyLoss: r.policyLoss,
			ValueLoss:  r.valueLoss,
			Timestamp:  time.Now().UTC(),
		}
		if err := a.store.Store(ctx, rec); err != nil {
			a.logger.Warn().Err(err).Int("episode", r.episode).Msg("Failed to store episode")
		}
	}

	err := a.publisher.PublishEpisode(ctx, events.EpisodeEvent{
		RunID:      a.runID,
		EnvID:      a.cfg.EnvID,
		Mode:       string(mode),
		Episode:    r.episode,
		Steps:      r.steps,
		Score:      r.score,
		PolicyLoss: r.policyLoss,
		ValueLoss:  r.valueLoss,
	})
	if err != nil {
		a.logger.Warn().Err(err).Int("episode", r.episode).Msg("Failed to publish episode")
	}
}

func (a *Agent) begin(ctx context.Context, mode storage.Mode) {
	a.status.start(a.runID, a.cfg.EnvID, mode, a.cfg.EpisodeNum)
	a.logger.Info().
		Str("mode", string(mode)).
		Str("env_id", a.cfg.EnvID).
		Int("episodes", a.cfg.EpisodeNum).
		Msg("Run started")
	a.publishStatus(ctx, mode, StateRunning, nil)
}

func (a *Agent) end(ctx context.Context, mode storage.Mode, err error) {
	state := StateCompleted
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		state = StateCancelled
	case err != nil:
		state = StateFailed
	}
	a.status.finish(state, err)

	ev := a.logger.Info()
	if state == StateFailed {
		ev = a.logger.Error().Err(err)
	}
	ev.Str("mode", string(mode)).Str("state", string(state)).Msg("Run finished")

	// the run context may already be done; status must still go out
	a.publishStatus(context.WithoutCancel(ctx), mode, state, err)
}

func (a *Agent) publishStatus(ctx context.Context, mode storage.Mode, state RunState, runErr error) {
	event := events.RunStatusEvent{
		RunID:   a.runID,
		EnvID:   a.cfg.EnvID,
		Mode:    string(mode),
		State:   string(state),
		Episode: a.status.Status().Episode,
	}
	if runErr != nil {
		event.LastError = runErr.Error()
	}
	if err := a.publisher.PublishRunStatus(ctx, event); err != nil {
		a.logger.Warn().Err(err).Str("state", string(state)).Msg("Failed to publish run status")
	}
}
