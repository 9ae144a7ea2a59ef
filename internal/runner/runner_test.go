package runner

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/reinforce/internal/agent"
	"github.com/cartridge/reinforce/internal/config"
	"github.com/cartridge/reinforce/internal/env"
	"github.com/cartridge/reinforce/internal/nn"
)

type mockNetworks struct {
	mock.Mock
}

func (m *mockNetworks) GaussianDist(in, out int, hidden []int) (agent.Policy, error) {
	args := m.Called(in, out, hidden)
	p, _ := args.Get(0).(agent.Policy)
	return p, args.Error(1)
}

func (m *mockNetworks) MLP(in, out int, hidden []int) (agent.ValueFunction, error) {
	args := m.Called(in, out, hidden)
	v, _ := args.Get(0).(agent.ValueFunction)
	return v, args.Error(1)
}

type mockOptimizers struct {
	mock.Mock
}

func (m *mockOptimizers) Adam(params []*nn.Param, lr float64) (agent.Optimizer, error) {
	args := m.Called(params, lr)
	o, _ := args.Get(0).(agent.Optimizer)
	return o, args.Error(1)
}

type mockAgents struct {
	mock.Mock
}

func (m *mockAgents) Agent(e env.Env, settings *config.Config, hyper agent.HyperParams, models agent.Models, optims agent.Optimizers) (Agent, error) {
	args := m.Called(e, settings, hyper, models, optims)
	a, _ := args.Get(0).(Agent)
	return a, args.Error(1)
}

type mockAgent struct {
	mock.Mock
}

func (m *mockAgent) Train(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockAgent) Test(ctx context.Context) error  { return m.Called(ctx).Error(0) }

// fakeOptimizer only exists to be told apart from its twin.
type fakeOptimizer struct {
	agent.Optimizer
	name string
}

func sameParams(want []*nn.Param) interface{} {
	return mock.MatchedBy(func(got []*nn.Param) bool {
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	})
}

type fixture struct {
	networks   *mockNetworks
	optimizers *mockOptimizers
	agents     *mockAgents
	agent      *mockAgent

	actor         *nn.GaussianDist
	baseline      *nn.MLP
	actorOptim    *fakeOptimizer
	baselineOptim *fakeOptimizer
	env           env.Env
	settings      *config.Config
}

const (
	stateDim  = 3
	actionDim = 2
)

func newFixture(t *testing.T, test bool) *fixture {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	actor, err := nn.NewGaussianDist(stateDim, actionDim, []int{4}, rng)
	require.NoError(t, err)
	baseline, err := nn.NewMLP(stateDim, 1, []int{4}, rng)
	require.NoError(t, err)

	settings := config.Default()
	settings.Test = test

	f := &fixture{
		networks:      &mockNetworks{},
		optimizers:    &mockOptimizers{},
		agents:        &mockAgents{},
		agent:         &mockAgent{},
		actor:         actor,
		baseline:      baseline,
		actorOptim:    &fakeOptimizer{name: "actor"},
		baselineOptim: &fakeOptimizer{name: "baseline"},
		env:           env.NewPendulum(),
		settings:      settings,
	}

	f.networks.On("GaussianDist", stateDim, actionDim, []int{128, 128, 128}).Return(actor, nil).Once()
	f.networks.On("MLP", stateDim, 1, []int{128, 128, 128}).Return(baseline, nil).Once()
	f.optimizers.On("Adam", sameParams(actor.Params()), 1e-3).Return(f.actorOptim, nil).Once()
	f.optimizers.On("Adam", sameParams(baseline.Params()), 1e-3).Return(f.baselineOptim, nil).Once()
	f.agents.On("Agent", f.env, settings,
		agent.HyperParams{Gamma: 0.99, LRActor: 1e-3, LRBaseline: 1e-3},
		agent.Models{Actor: actor, Baseline: baseline},
		agent.Optimizers{Actor: f.actorOptim, Baseline: f.baselineOptim},
	).Return(f.agent, nil).Once()
	return f
}

func (f *fixture) runner() *Runner {
	return New(WithNetworks(f.networks), WithOptimizers(f.optimizers), WithAgents(f.agents))
}

func (f *fixture) assertBuilt(t *testing.T) {
	f.networks.AssertExpectations(t)
	f.optimizers.AssertExpectations(t)
	f.agents.AssertExpectations(t)
}

func TestRun_TrainDispatch(t *testing.T) {
	f := newFixture(t, false)
	f.agent.On("Train", mock.Anything).Return(nil).Once()

	err := f.runner().Run(context.Background(), f.env, f.settings, stateDim, actionDim)
	require.NoError(t, err)

	f.assertBuilt(t)
	f.agent.AssertNumberOfCalls(t, "Train", 1)
	f.agent.AssertNotCalled(t, "Test", mock.Anything)
}

func TestRun_TestDispatch(t *testing.T) {
	f := newFixture(t, true)
	f.agent.On("Test", mock.Anything).Return(nil).Once()

	err := f.runner().Run(context.Background(), f.env, f.settings, stateDim, actionDim)
	require.NoError(t, err)

	f.assertBuilt(t)
	f.agent.AssertNumberOfCalls(t, "Test", 1)
	f.agent.AssertNotCalled(t, "Train", mock.Anything)
}

func TestRun_NetworksMovedToDevice(t *testing.T) {
	f := newFixture(t, false)
	f.agent.On("Train", mock.Anything).Return(nil)

	require.NoError(t, f.runner().Run(context.Background(), f.env, f.settings, stateDim, actionDim))
	assert.Equal(t, nn.SelectDevice(), f.actor.Device())
	assert.Equal(t, nn.SelectDevice(), f.baseline.Device())
}

func TestRun_PropagatesAgentError(t *testing.T) {
	boom := errors.New("train failed")
	f := newFixture(t, false)
	f.agent.On("Train", mock.Anything).Return(boom)

	err := f.runner().Run(context.Background(), f.env, f.settings, stateDim, actionDim)
	assert.Equal(t, boom, err)
}

func TestRun_PropagatesConstructionErrors(t *testing.T) {
	boom := errors.New("boom")
	ctx := context.Background()
	settings := config.Default()
	e := env.NewPendulum()

	t.Run("actor", func(t *testing.T) {
		networks := &mockNetworks{}
		networks.On("GaussianDist", stateDim, actionDim, mock.Anything).Return(nil, boom)

		err := New(WithNetworks(networks)).Run(ctx, e, settings, stateDim, actionDim)
		assert.Equal(t, boom, err)
		networks.AssertNotCalled(t, "MLP", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("optimizer", func(t *testing.T) {
		f := newFixture(t, false)
		optimizers := &mockOptimizers{}
		optimizers.On("Adam", mock.Anything, mock.Anything).Return(nil, boom)

		err := New(WithNetworks(f.networks), WithOptimizers(optimizers), WithAgents(f.agents)).
			Run(ctx, f.env, f.settings, stateDim, actionDim)
		assert.Equal(t, boom, err)
		optimizers.AssertNumberOfCalls(t, "Adam", 1)
		f.agents.AssertNotCalled(t, "Agent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("agent", func(t *testing.T) {
		f := newFixture(t, false)
		agents := &mockAgents{}
		agents.On("Agent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)

		err := New(WithNetworks(f.networks), WithOptimizers(f.optimizers), WithAgents(agents)).
			Run(ctx, f.env, f.settings, stateDim, actionDim)
		assert.Equal(t, boom, err)
		f.agent.AssertNotCalled(t, "Train", mock.Anything)
	})
}

func TestHyperParameters(t *testing.T) {
	h := HyperParameters()
	assert.Equal(t, 0.99, h.Gamma)
	assert.Equal(t, 1e-3, h.LRActor)
	assert.Equal(t, 1e-3, h.LRBaseline)

	h.Gamma = 0
	assert.Equal(t, 0.99, HyperParameters().Gamma)
}

func TestRun_ProductionBuilders(t *testing.T) {
	settings := config.Default()
	settings.EpisodeNum = 1
	settings.SavePeriod = 1
	settings.SaveDir = t.TempDir()

	e := env.NewTimeLimit(env.NormalizeActions{Env: env.NewPendulum()}, 5)
	e.Seed(settings.Seed)
	tracker := agent.NewTracker()

	r := New(WithAgentOptions(agent.WithTracker(tracker)))
	require.NoError(t, r.Run(context.Background(), e, settings, 3, 1))

	_, err := os.Stat(agent.CheckpointPath(settings.SaveDir, 1))
	assert.NoError(t, err)
	status := tracker.Status()
	assert.Equal(t, agent.StateCompleted, status.State)
	assert.Equal(t, 1, status.Episode)
}
