// Package optim implements gradient-based optimizers for nn parameters.
package optim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/reinforce/internal/nn"
)

// Default Adam coefficients.
const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// Adam implements the Adam optimizer bound to a fixed parameter set.
type Adam struct {
	params []*nn.Param
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64

	step int
	m    []*mat.Dense
	v    []*mat.Dense
}

// NewAdam binds an optimizer to params with learning rate lr.
func NewAdam(params []*nn.Param, lr float64) (*Adam, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}
	if len(params) == 0 {
		return nil, errors.New("optimizer needs at least one parameter")
	}
	a := &Adam{
		params: params,
		lr:     lr,
		beta1:  DefaultBeta1,
		beta2:  DefaultBeta2,
		eps:    DefaultEpsilon,
		m:      make([]*mat.Dense, len(params)),
		v:      make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		a.m[i] = mat.NewDense(r, c, nil)
		a.v[i] = mat.NewDense(r, c, nil)
	}
	return a, nil
}

// ZeroGrad clears the gradients of the bound parameters.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.Grad.Zero()
	}
}

// Step applies one bias-corrected Adam update using the current gradients.
func (a *Adam) Step() {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		m.Apply(func(r, c int, mv float64) float64 {
			return a.beta1*mv + (1-a.beta1)*p.Grad.At(r, c)
		}, m)
		v.Apply(func(r, c int, vv float64) float64 {
			g := p.Grad.At(r, c)
			return a.beta2*vv + (1-a.beta2)*g*g
		}, v)
		p.Value.Apply(func(r, c int, w float64) float64 {
			mHat := m.At(r, c) / c1
			vHat := v.At(r, c) / c2
			return w - a.lr*mHat/(math.Sqrt(vHat)+a.eps)
		}, p.Value)
	}
}

// State is the serialisable optimizer state.
type State struct {
	Step         int         `msgpack:"step"`
	LearningRate float64     `msgpack:"learning_rate"`
	M            []nn.Tensor `msgpack:"m"`
	V            []nn.Tensor `msgpack:"v"`
}

// State snapshots the moment estimates.
func (a *Adam) State() State {
	s := State{Step: a.step, LearningRate: a.lr}
	for i := range a.params {
		s.M = append(s.M, nn.NewTensor(a.m[i]))
		s.V = append(s.V, nn.NewTensor(a.v[i]))
	}
	return s
}

// LoadState restores moment estimates saved by State.
func (a *Adam) LoadState(s State) error {
	if len(s.M) != len(a.params) || len(s.V) != len(a.params) {
		return fmt.Errorf("optimizer state has %d/%d moments for %d params: %w",
			len(s.M), len(s.V), len(a.params), nn.ErrShapeMismatch)
	}
	for i, p := range a.params {
		r, c := p.Value.Dims()
		for _, t := range []nn.Tensor{s.M[i], s.V[i]} {
			if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
				return fmt.Errorf("moment for %q: %w", p.Name, nn.ErrShapeMismatch)
			}
		}
	}
	for i := range a.params {
		a.m[i] = mat.NewDense(s.M[i].Rows, s.M[i].Cols, append([]float64(nil), s.M[i].Data...))
		a.v[i] = mat.NewDense(s.V[i].Rows, s.V[i].Cols, append([]float64(nil), s.V[i].Data...))
	}
	a.step = s.Step
	return nil
}
