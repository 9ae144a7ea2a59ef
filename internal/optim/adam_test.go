package optim

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/reinforce/internal/nn"
)

func TestNewAdam_Validation(t *testing.T) {
	m, err := nn.NewMLP(2, 1, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	_, err = NewAdam(m.Params(), 0)
	assert.Error(t, err)
	_, err = NewAdam(nil, 1e-3)
	assert.Error(t, err)

	a, err := NewAdam(m.Params(), 1e-3)
	require.NoError(t, err)
	assert.Equal(t, 1e-3, a.lr)
}

func TestAdam_FirstStepMovesByLearningRate(t *testing.T) {
	m, err := nn.NewMLP(2, 1, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	a, err := NewAdam(m.Params(), 0.01)
	require.NoError(t, err)

	w := m.Params()[0]
	before := w.Value.At(0, 0)
	w.Grad.Set(0, 0, 5)
	w.Grad.Set(0, 1, -0.2)
	before1 := w.Value.At(0, 1)

	a.Step()

	// bias correction makes the first step exactly lr * sign(g)
	assert.InDelta(t, before-0.01, w.Value.At(0, 0), 1e-8)
	assert.InDelta(t, before1+0.01, w.Value.At(0, 1), 1e-8)
	assert.Equal(t, 1, a.step)
}

func TestAdam_MinimisesQuadratic(t *testing.T) {
	m, err := nn.NewMLP(1, 1, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	a, err := NewAdam(m.Params(), 0.05)
	require.NoError(t, err)

	w := m.Params()[0]
	for i := 0; i < 500; i++ {
		a.ZeroGrad()
		// d/dw (w-3)^2
		w.Grad.Set(0, 0, 2*(w.Value.At(0, 0)-3))
		a.Step()
	}
	assert.InDelta(t, 3.0, w.Value.At(0, 0), 1e-2)
}

func TestAdam_ZeroGradOnlyTouchesOwnParams(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	actor, err := nn.NewMLP(2, 1, nil, rng)
	require.NoError(t, err)
	baseline, err := nn.NewMLP(2, 1, nil, rng)
	require.NoError(t, err)

	a, err := NewAdam(actor.Params(), 1e-3)
	require.NoError(t, err)
	actor.Params()[0].Grad.Set(0, 0, 1)
	baseline.Params()[0].Grad.Set(0, 0, 1)

	a.ZeroGrad()
	assert.Equal(t, 0.0, actor.Params()[0].Grad.At(0, 0))
	assert.Equal(t, 1.0, baseline.Params()[0].Grad.At(0, 0))
}

func TestAdam_StateRoundTrip(t *testing.T) {
	m, err := nn.NewMLP(2, 1, []int{3}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	a, err := NewAdam(m.Params(), 1e-3)
	require.NoError(t, err)
	for _, p := range m.Params() {
		p.Grad.Set(0, 0, 0.5)
	}
	a.Step()
	a.Step()

	b, err := NewAdam(m.Params(), 1e-3)
	require.NoError(t, err)
	require.NoError(t, b.LoadState(a.State()))
	assert.Equal(t, 2, b.step)
	assert.Equal(t, a.State(), b.State())

	bad := a.State()
	bad.M = bad.M[:1]
	assert.ErrorIs(t, b.LoadState(bad), nn.ErrShapeMismatch)
	assert.False(t, math.IsNaN(m.Params()[0].Value.At(0, 0)))
}
