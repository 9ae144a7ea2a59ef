// Package nn provides small fully connected networks with hand-written
// backpropagation on top of gonum matrices.
package nn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when loaded weights do not fit a network.
var ErrShapeMismatch = errors.New("shape mismatch")

// Param is a trainable matrix and its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Tensor is the serialisable form of a Param value.
type Tensor struct {
	Rows int       `msgpack:"rows" json:"rows"`
	Cols int       `msgpack:"cols" json:"cols"`
	Data []float64 `msgpack:"data" json:"data"`
}

// NewTensor copies m into a Tensor.
func NewTensor(m mat.Matrix) Tensor {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return Tensor{Rows: r, Cols: c, Data: data}
}

// StateDict maps parameter names to their values.
type StateDict map[string]Tensor

// Module is implemented by every network in this package.
type Module interface {
	Params() []*Param
	ZeroGrad()
	StateDict() StateDict
	LoadStateDict(StateDict) error
	To(Device) error
}

type paramSet []*Param

func (ps paramSet) zeroGrad() {
	for _, p := range ps {
		p.Grad.Zero()
	}
}

func (ps paramSet) stateDict() StateDict {
	sd := make(StateDict, len(ps))
	for _, p := range ps {
		sd[p.Name] = NewTensor(p.Value)
	}
	return sd
}

func (ps paramSet) load(sd StateDict) error {
	for _, p := range ps {
		t, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q: %w", p.Name, ErrShapeMismatch)
		}
		r, c := p.Value.Dims()
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return fmt.Errorf("parameter %q is %dx%d, got %dx%d: %w", p.Name, r, c, t.Rows, t.Cols, ErrShapeMismatch)
		}
	}
	for _, p := range ps {
		t := sd[p.Name]
		p.Value.Copy(mat.NewDense(t.Rows, t.Cols, append([]float64(nil), t.Data...)))
	}
	return nil
}
