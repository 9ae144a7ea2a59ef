// Package agent implements REINFORCE with a learned value baseline for
// continuous action spaces.
package agent

import (
	"errors"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/reinforce/internal/config"
	"github.com/cartridge/reinforce/internal/env"
	"github.com/cartridge/reinforce/internal/events"
	"github.com/cartridge/reinforce/internal/metrics"
	"github.com/cartridge/reinforce/internal/nn"
	"github.com/cartridge/reinforce/internal/optim"
	"github.com/cartridge/reinforce/internal/storage"
)

// ErrEmptyEpisode is returned by UpdateModel when no steps were recorded.
var ErrEmptyEpisode = errors.New("no transitions recorded for update")

// HyperParams are the learning constants of a run.
type HyperParams struct {
	Gamma      float64 `msgpack:"gamma" json:"gamma"`
	LRActor    float64 `msgpack:"lr_actor" json:"lr_actor"`
	LRBaseline float64 `msgpack:"lr_baseline" json:"lr_baseline"`
}

// Map returns the hyperparameters keyed by name.
func (h HyperParams) Map() map[string]float64 {
	return map[string]float64{
		"gamma":       h.Gamma,
		"lr_actor":    h.LRActor,
		"lr_baseline": h.LRBaseline,
	}
}

// Policy is the actor: a network mapping states to a Gaussian over actions.
type Policy interface {
	nn.Module
	Forward(x *mat.Dense) nn.Dist
	Backward(dMu, dLogStd *mat.Dense) *mat.Dense
	Sample(state []float64, rng *rand.Rand) ([]float64, nn.Dist)
	Mean(state []float64) []float64
}

// ValueFunction is the baseline: a network mapping states to a scalar.
type ValueFunction interface {
	nn.Module
	Forward(x *mat.Dense) *mat.Dense
	Backward(dy *mat.Dense) *mat.Dense
}

// Optimizer updates the parameters it was built for.
type Optimizer interface {
	ZeroGrad()
	Step()
	State() optim.State
	LoadState(optim.State) error
}

// Models pairs the actor with its baseline.
type Models struct {
	Actor    Policy
	Baseline ValueFunction
}

// Optimizers pairs one optimizer per model.
type Optimizers struct {
	Actor    Optimizer
	Baseline Optimizer
}

// Agent owns the models and optimizers of a run and drives training or
// evaluation against an environment.
type Agent struct {
	env   env.Env
	cfg   *config.Config
	hyper HyperParams
	runID string

	actor         Policy
	baseline      ValueFunction
	actorOptim    Optimizer
	baselineOptim Optimizer

	rng       *rand.Rand
	logger    zerolog.Logger
	store     storage.Backend
	publisher events.Publisher
	metrics   *metrics.Collector
	status    *Tracker

	// current episode, cleared by UpdateModel
	states  [][]float64
	actions [][]float64
	rewards []float64
}

// Option customises an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithStorage records every finished episode in store.
func WithStorage(store storage.Backend) Option {
	return func(a *Agent) { a.store = store }
}

// WithPublisher announces episodes and status changes through p.
func WithPublisher(p events.Publisher) Option {
	return func(a *Agent) { a.publisher = p }
}

// WithMetrics reports episodes to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Agent) { a.metrics = c }
}

// WithTracker shares a status tracker with readers such as the status server.
func WithTracker(t *Tracker) Option {
	return func(a *Agent) { a.status = t }
}

// WithRNG sets the source used for action sampling.
func WithRNG(rng *rand.Rand) Option {
	return func(a *Agent) { a.rng = rng }
}

// New builds an agent and restores a checkpoint when settings.LoadFrom
// names an existing file.
func New(e env.Env, settings *config.Config, hyper HyperParams, models Models, optims Optimizers, opts ...Option) (*Agent, error) {
	if e == nil {
		return nil, errors.New("environment is required")
	}
	if settings == nil {
		return nil, errors.New("settings are required")
	}
	if models.Actor == nil || models.Baseline == nil {
		return nil, errors.New("actor and baseline models are required")
	}
	if optims.Actor == nil || optims.Baseline == nil {
		return nil, errors.New("actor and baseline optimizers are required")
	}

	a := &Agent{
		env:           e,
		cfg:           settings,
		hyper:         hyper,
		runID:         settings.RunID,
		actor:         models.Actor,
		baseline:      models.Baseline,
		actorOptim:    optims.Actor,
		baselineOptim: optims.Baseline,
		logger:        zerolog.Nop(),
		publisher:     events.NoopPublisher{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.runID == "" {
		a.runID = uuid.New().String()
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewSource(settings.Seed))
	}
	if a.status == nil {
		a.status = NewTracker()
	}
	a.logger = a.logger.With().Str("run_id", a.runID).Logger()

	if settings.LoadFrom != "" {
		if _, err := os.Stat(settings.LoadFrom); err == nil {
			if err := a.LoadParams(settings.LoadFrom); err != nil {
				return nil, err
			}
		} else {
			a.logger.Warn().Str("path", settings.LoadFrom).Msg("Checkpoint not found, starting from scratch")
		}
	}

	return a, nil
}

// RunID identifies the run in logs, storage and events.
func (a *Agent) RunID() string { return a.runID }

// Status returns a snapshot of the run status.
func (a *Agent) Status() RunStatus { return a.status.Status() }
