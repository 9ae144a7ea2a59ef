// Package runner wires the networks, optimizers and agent of a REINFORCE
// run together and dispatches to training or evaluation.
package runner

import (
	"context"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/cartridge/reinforce/internal/agent"
	"github.com/cartridge/reinforce/internal/config"
	"github.com/cartridge/reinforce/internal/env"
	"github.com/cartridge/reinforce/internal/nn"
	"github.com/cartridge/reinforce/internal/optim"
)

const (
	gamma      = 0.99
	lrActor    = 1e-3
	lrBaseline = 1e-3
)

// HiddenSizes are the hidden layer widths of both networks.
var HiddenSizes = []int{128, 128, 128}

// device is chosen once when the package loads.
var device = nn.SelectDevice()

// HyperParameters returns the learning constants of every run.
func HyperParameters() agent.HyperParams {
	return agent.HyperParams{Gamma: gamma, LRActor: lrActor, LRBaseline: lrBaseline}
}

// Agent is the lifecycle the runner dispatches to.
type Agent interface {
	Train(ctx context.Context) error
	Test(ctx context.Context) error
}

// NetworkBuilder constructs the actor and baseline networks.
type NetworkBuilder interface {
	GaussianDist(inputSize, outputSize int, hiddenSizes []int) (agent.Policy, error)
	MLP(inputSize, outputSize int, hiddenSizes []int) (agent.ValueFunction, error)
}

// OptimizerBuilder constructs an optimizer bound to params.
type OptimizerBuilder interface {
	Adam(params []*nn.Param, lr float64) (agent.Optimizer, error)
}

// AgentBuilder constructs the agent from its parts.
type AgentBuilder interface {
	Agent(e env.Env, settings *config.Config, hyper agent.HyperParams, models agent.Models, optims agent.Optimizers) (Agent, error)
}

// Factory groups the builders a Runner uses. A nil Networks builder is
// replaced by gonum networks seeded from settings.Seed at run time.
type Factory struct {
	Networks   NetworkBuilder
	Optimizers OptimizerBuilder
	Agents     AgentBuilder
}

// Runner builds and runs one agent per call to Run.
type Runner struct {
	factory   Factory
	agentOpts []agent.Option
	logger    zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithNetworks replaces the network builder.
func WithNetworks(b NetworkBuilder) Option {
	return func(r *Runner) { r.factory.Networks = b }
}

// WithOptimizers replaces the optimizer builder.
func WithOptimizers(b OptimizerBuilder) Option {
	return func(r *Runner) { r.factory.Optimizers = b }
}

// WithAgents replaces the agent builder.
func WithAgents(b AgentBuilder) Option {
	return func(r *Runner) { r.factory.Agents = b }
}

// WithAgentOptions passes opts to the default agent builder.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(r *Runner) { r.agentOpts = append(r.agentOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New returns a Runner using the production builders unless overridden.
func New(opts ...Option) *Runner {
	r := &Runner{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory.Optimizers == nil {
		r.factory.Optimizers = adamBuilder{}
	}
	if r.factory.Agents == nil {
		r.factory.Agents = agentBuilder{opts: r.agentOpts}
	}
	return r
}

// Run is New().Run.
func Run(ctx context.Context, e env.Env, settings *config.Config, stateDim, actionDim int) error {
	return New().Run(ctx, e, settings, stateDim, actionDim)
}

// Run builds the actor, the baseline, one optimizer for each and the agent,
// then calls exactly one of Test or Train depending on settings.Test.
// Errors are returned as they come.
func (r *Runner) Run(ctx context.Context, e env.Env, settings *config.Config, stateDim, actionDim int) error {
	networks := r.factory.Networks
	if networks == nil {
		networks = gonumNetworks{rng: rand.New(rand.NewSource(settings.Seed))}
	}

	actor, err := networks.GaussianDist(stateDim, actionDim, HiddenSizes)
	if err != nil {
		return err
	}
	if err := actor.To(device); err != nil {
		return err
	}
	baseline, err := networks.MLP(stateDim, 1, HiddenSizes)
	if err != nil {
		return err
	}
	if err := baseline.To(device); err != nil {
		return err
	}

	hyper := HyperParameters()
	actorOptim, err := r.factory.Optimizers.Adam(actor.Params(), hyper.LRActor)
	if err != nil {
		return err
	}
	baselineOptim, err := r.factory.Optimizers.Adam(baseline.Params(), hyper.LRBaseline)
	if err != nil {
		return err
	}

	a, err := r.factory.Agents.Agent(e, settings, hyper,
		agent.Models{Actor: actor, Baseline: baseline},
		agent.Optimizers{Actor: actorOptim, Baseline: baselineOptim})
	if err != nil {
		return err
	}

	r.logger.Debug().
		Str("device", string(device)).
		Int("state_dim", stateDim).
		Int("action_dim", actionDim).
		Bool("test", settings.Test).
		Msg("Agent constructed")

	if settings.Test {
		return a.Test(ctx)
	}
	return a.Train(ctx)
}

type gonumNetworks struct {
	rng *rand.Rand
}

func (g gonumNetworks) GaussianDist(in, out int, hidden []int) (agent.Policy, error) {
	p, err := nn.NewGaussianDist(in, out, hidden, g.rng)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (g gonumNetworks) MLP(in, out int, hidden []int) (agent.ValueFunction, error) {
	m, err := nn.NewMLP(in, out, hidden, g.rng)
	if err != nil {
		return nil, err
	}
	return m, nil
}

type adamBuilder struct{}

func (adamBuilder) Adam(params []*nn.Param, lr float64) (agent.Optimizer, error) {
	a, err := optim.NewAdam(params, lr)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type agentBuilder struct {
	opts []agent.Option
}

func (b agentBuilder) Agent(e env.Env, settings *config.Config, hyper agent.HyperParams, models agent.Models, optims agent.Optimizers) (Agent, error) {
	a, err := agent.New(e, settings, hyper, models, optims, b.opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}
