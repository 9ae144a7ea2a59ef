package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// OutputInitBound is the U(-b, b) range used for output heads.
const OutputInitBound = 3e-3

// MLP is a ReLU multi-layer perceptron with a linear output layer.
type MLP struct {
	InputSize   int
	OutputSize  int
	HiddenSizes []int

	hidden hiddenStack
	output *Linear
	device Device
}

// NewMLP builds an MLP with weights drawn from rng.
func NewMLP(inputSize, outputSize int, hiddenSizes []int, rng *rand.Rand) (*MLP, error) {
	if err := checkSizes(inputSize, outputSize, hiddenSizes); err != nil {
		return nil, err
	}
	last := inputSize
	if len(hiddenSizes) > 0 {
		last = hiddenSizes[len(hiddenSizes)-1]
	}
	return &MLP{
		InputSize:   inputSize,
		OutputSize:  outputSize,
		HiddenSizes: append([]int(nil), hiddenSizes...),
		hidden:      newHiddenStack("hidden", inputSize, hiddenSizes, rng),
		output:      NewLinear("output", last, outputSize, OutputInitBound, rng),
		device:      CPU,
	}, nil
}

func checkSizes(in, out int, hidden []int) error {
	if in <= 0 {
		return fmt.Errorf("input size must be positive, got %d", in)
	}
	if out <= 0 {
		return fmt.Errorf("output size must be positive, got %d", out)
	}
	for i, h := range hidden {
		if h <= 0 {
			return fmt.Errorf("hidden size %d must be positive, got %d", i, h)
		}
	}
	return nil
}

// Forward maps a batch of inputs to a batch of outputs.
func (m *MLP) Forward(x *mat.Dense) *mat.Dense {
	return m.output.Forward(m.hidden.forward(x))
}

// Backward propagates dL/dy from the last Forward call.
func (m *MLP) Backward(dy *mat.Dense) *mat.Dense {
	return m.hidden.backward(m.output.Backward(dy))
}

// Params returns the trainable parameters in a stable order.
func (m *MLP) Params() []*Param {
	return append(m.hidden.params(), m.output.params()...)
}

// ZeroGrad clears accumulated gradients.
func (m *MLP) ZeroGrad() { paramSet(m.Params()).zeroGrad() }

// StateDict snapshots the parameter values.
func (m *MLP) StateDict() StateDict { return paramSet(m.Params()).stateDict() }

// LoadStateDict replaces parameter values; nothing is changed on error.
func (m *MLP) LoadStateDict(sd StateDict) error { return paramSet(m.Params()).load(sd) }

// To places the network on d.
func (m *MLP) To(d Device) error {
	if err := checkDevice(d); err != nil {
		return err
	}
	m.device = d
	return nil
}

// Device reports where the network lives.
func (m *MLP) Device() Device { return m.device }
