package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear computes Y = X W^T + b for a batch X with one sample per row.
type Linear struct {
	W, B    *Param
	in, out int

	// input of the last Forward call, needed by Backward
	x *mat.Dense
}

// NewLinear creates a layer with weights and bias drawn from U(-bound, bound).
// A non-positive bound selects the default 1/sqrt(in).
func NewLinear(name string, in, out int, bound float64, rng *rand.Rand) *Linear {
	if bound <= 0 {
		bound = 1 / math.Sqrt(float64(in))
	}
	l := &Linear{
		W:   newParam(name+".weight", out, in),
		B:   newParam(name+".bias", 1, out),
		in:  in,
		out: out,
	}
	uniform(l.W.Value, bound, rng)
	uniform(l.B.Value, bound, rng)
	return l
}

func uniform(m *mat.Dense, bound float64, rng *rand.Rand) {
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] = (2*rng.Float64() - 1) * bound
		}
	}
}

// Forward applies the layer to x.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	if cols != l.in {
		panic(fmt.Sprintf("nn: linear layer expects %d inputs, got %d", l.in, cols))
	}
	y := mat.NewDense(rows, l.out, nil)
	y.Mul(x, l.W.Value.T())
	bias := l.B.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(y.RawRowView(i), bias)
	}
	l.x = x
	return y
}

// Backward accumulates parameter gradients for dy and returns dL/dx.
func (l *Linear) Backward(dy *mat.Dense) *mat.Dense {
	if l.x == nil {
		panic("nn: Backward called before Forward")
	}
	rows, _ := dy.Dims()

	var dw mat.Dense
	dw.Mul(dy.T(), l.x)
	l.W.Grad.Add(l.W.Grad, &dw)

	db := l.B.Grad.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(db, dy.RawRowView(i))
	}

	dx := mat.NewDense(rows, l.in, nil)
	dx.Mul(dy, l.W.Value)
	return dx
}

func (l *Linear) params() []*Param {
	return []*Param{l.W, l.B}
}

func relu(z *mat.Dense) *mat.Dense {
	r, c := z.Dims()
	h := mat.NewDense(r, c, nil)
	h.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, z)
	return h
}

// reluGrad masks dh with the positive entries of the activation h.
func reluGrad(dh, h *mat.Dense) *mat.Dense {
	r, c := dh.Dims()
	dz := mat.NewDense(r, c, nil)
	dz.Apply(func(i, j int, v float64) float64 {
		if h.At(i, j) > 0 {
			return v
		}
		return 0
	}, dh)
	return dz
}

func tanh(z *mat.Dense) *mat.Dense {
	r, c := z.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, z)
	return out
}

// hiddenStack is the ReLU trunk shared by MLP and GaussianDist.
type hiddenStack struct {
	layers []*Linear
	acts   []*mat.Dense
}

func newHiddenStack(prefix string, in int, sizes []int, rng *rand.Rand) hiddenStack {
	layers := make([]*Linear, len(sizes))
	for i, size := range sizes {
		layers[i] = NewLinear(fmt.Sprintf("%s.%d", prefix, i), in, size, 0, rng)
		in = size
	}
	return hiddenStack{layers: layers}
}

func (s *hiddenStack) forward(x *mat.Dense) *mat.Dense {
	s.acts = s.acts[:0]
	h := x
	for _, l := range s.layers {
		h = relu(l.Forward(h))
		s.acts = append(s.acts, h)
	}
	return h
}

func (s *hiddenStack) backward(dh *mat.Dense) *mat.Dense {
	for i := len(s.layers) - 1; i >= 0; i-- {
		dh = s.layers[i].Backward(reluGrad(dh, s.acts[i]))
	}
	return dh
}

func (s *hiddenStack) params() []*Param {
	var ps []*Param
	for _, l := range s.layers {
		ps = append(ps, l.params()...)
	}
	return ps
}

// rowMatrix wraps a single sample as a 1xN batch.
func rowMatrix(x []float64) *mat.Dense {
	return mat.NewDense(1, len(x), append([]float64(nil), x...))
}
