package agent

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/reinforce/internal/config"
	"github.com/cartridge/reinforce/internal/env"
	"github.com/cartridge/reinforce/internal/events"
	"github.com/cartridge/reinforce/internal/nn"
	"github.com/cartridge/reinforce/internal/optim"
	"github.com/cartridge/reinforce/internal/storage"
)

// lineEnv is a deterministic episode of fixed length rewarding small actions.
type lineEnv struct {
	length  int
	t       int
	stepErr error
	renders int
}

func (e *lineEnv) Reset() ([]float64, error) {
	e.t = 0
	return []float64{0, 1}, nil
}

func (e *lineEnv) Step(action []float64) ([]float64, float64, bool, error) {
	if e.stepErr != nil {
		return nil, 0, false, e.stepErr
	}
	e.t++
	return []float64{float64(e.t) / 10, 1}, -action[0] * action[0], e.t >= e.length, nil
}

func (e *lineEnv) ObservationSpace() env.Box {
	return env.Box{Low: []float64{-1, -1}, High: []float64{1, 1}}
}

func (e *lineEnv) ActionSpace() env.Box {
	return env.Box{Low: []float64{-1}, High: []float64{1}}
}

func (e *lineEnv) Seed(int64)    {}
func (e *lineEnv) Render() error { e.renders++; return nil }
func (e *lineEnv) Close() error  { return nil }

type recordingPublisher struct {
	episodes []events.EpisodeEvent
	statuses []events.RunStatusEvent
}

func (p *recordingPublisher) PublishEpisode(_ context.Context, e events.EpisodeEvent) error {
	p.episodes = append(p.episodes, e)
	return nil
}

func (p *recordingPublisher) PublishRunStatus(_ context.Context, e events.RunStatusEvent) error {
	p.statuses = append(p.statuses, e)
	return nil
}

var testHyper = HyperParams{Gamma: 0.99, LRActor: 1e-3, LRBaseline: 1e-3}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.EpisodeNum = 3
	cfg.SavePeriod = 2
	cfg.SaveDir = t.TempDir()
	cfg.RunID = "run-test"
	return cfg
}

func newTestAgent(t *testing.T, e env.Env, cfg *config.Config, seed int64, opts ...Option) *Agent {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	actor, err := nn.NewGaussianDist(2, 1, []int{8, 8}, rng)
	require.NoError(t, err)
	baseline, err := nn.NewMLP(2, 1, []int{8, 8}, rng)
	require.NoError(t, err)
	actorOptim, err := optim.NewAdam(actor.Params(), testHyper.LRActor)
	require.NoError(t, err)
	baselineOptim, err := optim.NewAdam(baseline.Params(), testHyper.LRBaseline)
	require.NoError(t, err)

	opts = append([]Option{WithRNG(rand.New(rand.NewSource(seed)))}, opts...)
	a, err := New(e, cfg, testHyper,
		Models{Actor: actor, Baseline: baseline},
		Optimizers{Actor: actorOptim, Baseline: baselineOptim},
		opts...)
	require.NoError(t, err)
	return a
}

func TestDiscountedReturns(t *testing.T) {
	got := discountedReturns([]float64{1, 1, 1}, 0.5)
	assert.InDeltaSlice(t, []float64{1.75, 1.5, 1}, got, 1e-12)
	assert.Empty(t, discountedReturns(nil, 0.99))
}

func TestSmoothL1(t *testing.T) {
	loss, grad := smoothL1(0.5)
	assert.InDelta(t, 0.125, loss, 1e-12)
	assert.InDelta(t, 0.5, grad, 1e-12)

	loss, grad = smoothL1(3)
	assert.InDelta(t, 2.5, loss, 1e-12)
	assert.Equal(t, 1.0, grad)

	loss, grad = smoothL1(-2)
	assert.InDelta(t, 1.5, loss, 1e-12)
	assert.Equal(t, -1.0, grad)
}

func TestNew_RequiresParts(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(nil, cfg, testHyper, Models{}, Optimizers{})
	assert.Error(t, err)
	_, err = New(&lineEnv{length: 1}, cfg, testHyper, Models{}, Optimizers{})
	assert.Error(t, err)
}

func TestNew_MissingCheckpointIsIgnored(t *testing.T) {
	cfg := testConfig(t)
	cfg.LoadFrom = cfg.SaveDir + "/missing.msgpack"
	a := newTestAgent(t, &lineEnv{length: 1}, cfg, 1)
	assert.Equal(t, "run-test", a.RunID())
}

func TestUpdateModel_EmptyEpisode(t *testing.T) {
	a := newTestAgent(t, &lineEnv{length: 1}, testConfig(t), 1)
	_, _, err := a.UpdateModel()
	assert.ErrorIs(t, err, ErrEmptyEpisode)
}

func TestUpdateModel_LossesAndStep(t *testing.T) {
	e := &lineEnv{length: 5}
	a := newTestAgent(t, e, testConfig(t), 3)

	state, err := e.Reset()
	require.NoError(t, err)
	for done := false; !done; {
		action := a.SelectAction(state)
		state, _, done, err = a.Step(action)
		require.NoError(t, err)
	}
	require.Len(t, a.states, 5)

	states := stack(a.states)
	actions := stack(a.actions)
	returns := discountedReturns(a.rewards, testHyper.Gamma)
	values := a.baseline.Forward(states)
	logProbs := a.actor.Forward(states).LogProb(actions)

	var wantPolicy, wantValue float64
	for i := range returns {
		v := values.At(i, 0)
		wantPolicy -= (returns[i] - v) * logProbs[i]
		l, _ := smoothL1(v - returns[i])
		wantValue += l
	}

	before := a.actor.StateDict()
	baselineBefore := a.baseline.StateDict()

	policyLoss, valueLoss, err := a.UpdateModel()
	require.NoError(t, err)
	assert.InDelta(t, wantPolicy, policyLoss, 1e-9)
	assert.InDelta(t, wantValue, valueLoss, 1e-9)

	assert.NotEqual(t, before, a.actor.StateDict())
	assert.NotEqual(t, baselineBefore, a.baseline.StateDict())
	assert.Empty(t, a.states)
	assert.Empty(t, a.actions)
	assert.Empty(t, a.rewards)
}

func TestTrain_SavesAndRecords(t *testing.T) {
	cfg := testConfig(t)
	cfg.EpisodeNum = 5
	store := storage.NewMemoryBackend(100)
	pub := &recordingPublisher{}
	a := newTestAgent(t, &lineEnv{length: 4}, cfg, 5, WithStorage(store), WithPublisher(pub))

	require.NoError(t, a.Train(context.Background()))

	for _, ep := range []int{2, 4, 5} {
		_, err := os.Stat(CheckpointPath(cfg.SaveDir, ep))
		assert.NoError(t, err, "episode %d checkpoint", ep)
	}
	_, err := os.Stat(CheckpointPath(cfg.SaveDir, 3))
	assert.True(t, os.IsNotExist(err))

	records, err := store.Recent(context.Background(), "run-test", 0)
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, 5, records[0].Episode)
	assert.Equal(t, storage.ModeTrain, records[0].Mode)
	assert.Equal(t, 4, records[0].Steps)

	assert.Len(t, pub.episodes, 5)
	require.Len(t, pub.statuses, 2)
	assert.Equal(t, string(StateRunning), pub.statuses[0].State)
	assert.Equal(t, string(StateCompleted), pub.statuses[1].State)

	status := a.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 5, status.Episode)
	require.NotNil(t, status.LastScore)
	assert.Equal(t, records[0].Score, *status.LastScore)
}

func TestTest_UsesMeanWithoutUpdates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Test = true
	cfg.Render = true
	e := &lineEnv{length: 3}
	store := storage.NewMemoryBackend(100)
	a := newTestAgent(t, e, cfg, 7, WithStorage(store))
	before := a.actor.StateDict()

	require.NoError(t, a.Test(context.Background()))

	assert.Equal(t, before, a.actor.StateDict())
	assert.Zero(t, a.actorOptim.State().Step)
	assert.Empty(t, a.states)
	assert.Equal(t, 9, e.renders)

	records, err := store.Recent(context.Background(), "run-test", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, storage.ModeTest, records[0].Mode)

	// the mean action is deterministic, so every episode scores the same
	assert.Equal(t, records[0].Score, records[1].Score)
	assert.Equal(t, records[1].Score, records[2].Score)

	entries, err := os.ReadDir(cfg.SaveDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckpointRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.EpisodeNum = 2
	trained := newTestAgent(t, &lineEnv{length: 3}, cfg, 11)
	require.NoError(t, trained.Train(context.Background()))
	path, err := trained.SaveParams(9)
	require.NoError(t, err)
	assert.Equal(t, CheckpointPath(cfg.SaveDir, 9), path)

	loadCfg := testConfig(t)
	loadCfg.LoadFrom = path
	restored := newTestAgent(t, &lineEnv{length: 3}, loadCfg, 99)

	assert.Equal(t, trained.actor.StateDict(), restored.actor.StateDict())
	assert.Equal(t, trained.baseline.StateDict(), restored.baseline.StateDict())
	assert.Equal(t, trained.actorOptim.State(), restored.actorOptim.State())
	assert.Equal(t, trained.baselineOptim.State(), restored.baselineOptim.State())
}

func TestLoadParams_ShapeMismatch(t *testing.T) {
	cfg := testConfig(t)
	a := newTestAgent(t, &lineEnv{length: 1}, cfg, 1)
	path, err := a.SaveParams(1)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(2))
	actor, err := nn.NewGaussianDist(2, 1, []int{4}, rng)
	require.NoError(t, err)
	a.actor = actor
	assert.ErrorIs(t, a.LoadParams(path), nn.ErrShapeMismatch)
}

func TestLoadParams_PartialMismatchLeavesAgentUnchanged(t *testing.T) {
	cfg := testConfig(t)
	saved := newTestAgent(t, &lineEnv{length: 1}, cfg, 1)
	path, err := saved.SaveParams(1)
	require.NoError(t, err)

	a := newTestAgent(t, &lineEnv{length: 1}, testConfig(t), 2)
	baseline, err := nn.NewMLP(2, 1, []int{4}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	a.baseline = baseline

	actorBefore := a.actor.StateDict()
	baselineBefore := a.baseline.StateDict()
	optimBefore := a.actorOptim.State()
	require.NotEqual(t, saved.actor.StateDict(), actorBefore)

	assert.ErrorIs(t, a.LoadParams(path), nn.ErrShapeMismatch)
	assert.Equal(t, actorBefore, a.actor.StateDict())
	assert.Equal(t, baselineBefore, a.baseline.StateDict())
	assert.Equal(t, optimBefore, a.actorOptim.State())
}

func TestTrain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := &recordingPublisher{}
	a := newTestAgent(t, &lineEnv{length: 3}, testConfig(t), 1, WithPublisher(pub))

	err := a.Train(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, a.Status().State)
	require.Len(t, pub.statuses, 2)
	assert.Equal(t, string(StateCancelled), pub.statuses[1].State)
}

func TestTrain_EnvFailure(t *testing.T) {
	boom := errors.New("boom")
	pub := &recordingPublisher{}
	a := newTestAgent(t, &lineEnv{length: 3, stepErr: boom}, testConfig(t), 1, WithPublisher(pub))

	err := a.Train(context.Background())
	assert.ErrorIs(t, err, boom)

	status := a.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.LastError, "boom")
	require.Len(t, pub.statuses, 2)
	assert.Equal(t, string(StateFailed), pub.statuses[1].State)
	assert.NotEmpty(t, pub.statuses[1].LastError)
}

func TestTracker_BestScore(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, StatePending, tr.Status().State)

	tr.start("r", "Pendulum-v0", storage.ModeTrain, 3)
	tr.episode(1, -5, 0, 0)
	tr.episode(2, -1, 0, 0)
	tr.episode(3, -3, 0, 0)

	s := tr.Status()
	assert.Equal(t, -3.0, *s.LastScore)
	assert.Equal(t, -1.0, *s.BestScore)
	assert.False(t, math.IsNaN(*s.BestScore))
	assert.Nil(t, s.EndedAt)

	tr.finish(StateCompleted, nil)
	assert.NotNil(t, tr.Status().EndedAt)
}
