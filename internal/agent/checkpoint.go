package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cartridge/reinforce/internal/nn"
	"github.com/cartridge/reinforce/internal/optim"
)

// Checkpoint is the on-disk form of a trained agent.
type Checkpoint struct {
	Episode       int          `msgpack:"episode"`
	HyperParams   HyperParams  `msgpack:"hyper_params"`
	Actor         nn.StateDict `msgpack:"actor_state_dict"`
	Baseline      nn.StateDict `msgpack:"baseline_state_dict"`
	ActorOptim    optim.State  `msgpack:"actor_optim_state_dict"`
	BaselineOptim optim.State  `msgpack:"baseline_optim_state_dict"`
	SavedAt       time.Time    `msgpack:"saved_at"`
}

// CheckpointPath is where SaveParams writes the checkpoint for episode.
func CheckpointPath(dir string, episode int) string {
	return filepath.Join(dir, fmt.Sprintf("reinforce_ep_%d.msgpack", episode))
}

// SaveParams writes the models and optimizer states to the save directory
// and returns the file path.
func (a *Agent) SaveParams(episode int) (string, error) {
	if err := os.MkdirAll(a.cfg.SaveDir, 0o755); err != nil {
		return "", fmt.Errorf("create save dir: %w", err)
	}

	data, err := msgpack.Marshal(&Checkpoint{
		Episode:       episode,
		HyperParams:   a.hyper,
		Actor:         a.actor.StateDict(),
		Baseline:      a.baseline.StateDict(),
		ActorOptim:    a.actorOptim.State(),
		BaselineOptim: a.baselineOptim.State(),
		SavedAt:       time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}

	path := CheckpointPath(a.cfg.SaveDir, episode)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}

	a.logger.Info().Str("path", path).Int("episode", episode).Msg("Saved model and optimizer")
	return path, nil
}

// LoadParams restores models and optimizers from a checkpoint file.
func (a *Agent) LoadParams(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	var ckpt Checkpoint
	if err := msgpack.Unmarshal(data, &ckpt); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", path, err)
	}

	// Either every part is restored or none is.
	prev := Checkpoint{
		Actor:         a.actor.StateDict(),
		Baseline:      a.baseline.StateDict(),
		ActorOptim:    a.actorOptim.State(),
		BaselineOptim: a.baselineOptim.State(),
	}
	if err := a.applyCheckpoint(&ckpt); err != nil {
		if rerr := a.applyCheckpoint(&prev); rerr != nil {
			a.logger.Error().Err(rerr).Msg("Failed to restore parameters after a bad checkpoint")
		}
		return err
	}

	a.logger.Info().Str("path", path).Int("episode", ckpt.Episode).Msg("Loaded model and optimizer")
	return nil
}

func (a *Agent) applyCheckpoint(ckpt *Checkpoint) error {
	if err := a.actor.LoadStateDict(ckpt.Actor); err != nil {
		return fmt.Errorf("load actor: %w", err)
	}
	if err := a.baseline.LoadStateDict(ckpt.Baseline); err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	if err := a.actorOptim.LoadState(ckpt.ActorOptim); err != nil {
		return fmt.Errorf("load actor optimizer: %w", err)
	}
	if err := a.baselineOptim.LoadState(ckpt.BaselineOptim); err != nil {
		return fmt.Errorf("load baseline optimizer: %w", err)
	}
	return nil
}
