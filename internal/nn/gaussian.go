package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Bounds of the log standard deviation produced by GaussianDist.
const (
	LogStdMin = -20.0
	LogStdMax = 2.0
)

// Dist holds the parameters of a batch of diagonal Gaussians.
type Dist struct {
	Mu     *mat.Dense
	LogStd *mat.Dense
	Std    *mat.Dense
}

// LogProb returns, per row, the log density of actions summed over
// action dimensions.
func (d Dist) LogProb(actions *mat.Dense) []float64 {
	rows, cols := actions.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			n := distuv.Normal{Mu: d.Mu.At(i, j), Sigma: d.Std.At(i, j)}
			out[i] += n.LogProb(actions.At(i, j))
		}
	}
	return out
}

// GaussianDist is a policy network producing a diagonal Gaussian over
// actions. The mean is squashed by tanh and the log standard deviation is
// rescaled into [LogStdMin, LogStdMax].
type GaussianDist struct {
	InputSize   int
	OutputSize  int
	HiddenSizes []int

	hidden hiddenStack
	mu     *Linear
	logStd *Linear
	device Device

	// cached by Forward for Backward
	lastMu   *mat.Dense
	lastTanh *mat.Dense
}

// NewGaussianDist builds the policy network with weights drawn from rng.
func NewGaussianDist(inputSize, outputSize int, hiddenSizes []int, rng *rand.Rand) (*GaussianDist, error) {
	if err := checkSizes(inputSize, outputSize, hiddenSizes); err != nil {
		return nil, err
	}
	last := inputSize
	if len(hiddenSizes) > 0 {
		last = hiddenSizes[len(hiddenSizes)-1]
	}
	return &GaussianDist{
		InputSize:   inputSize,
		OutputSize:  outputSize,
		HiddenSizes: append([]int(nil), hiddenSizes...),
		hidden:      newHiddenStack("hidden", inputSize, hiddenSizes, rng),
		mu:          NewLinear("mu", last, outputSize, OutputInitBound, rng),
		logStd:      NewLinear("log_std", last, outputSize, OutputInitBound, rng),
		device:      CPU,
	}, nil
}

// Forward computes the distribution parameters for a batch of states.
func (g *GaussianDist) Forward(x *mat.Dense) Dist {
	h := g.hidden.forward(x)
	mu := tanh(g.mu.Forward(h))
	t := tanh(g.logStd.Forward(h))

	r, c := t.Dims()
	logStd := mat.NewDense(r, c, nil)
	logStd.Apply(func(_, _ int, v float64) float64 {
		return LogStdMin + 0.5*(LogStdMax-LogStdMin)*(v+1)
	}, t)
	std := mat.NewDense(r, c, nil)
	std.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, logStd)

	g.lastMu, g.lastTanh = mu, t
	return Dist{Mu: mu, LogStd: logStd, Std: std}
}

// Backward propagates gradients with respect to the mean and log standard
// deviation of the last Forward call.
func (g *GaussianDist) Backward(dMu, dLogStd *mat.Dense) *mat.Dense {
	r, c := dMu.Dims()
	dzMu := mat.NewDense(r, c, nil)
	dzMu.Apply(func(i, j int, v float64) float64 {
		m := g.lastMu.At(i, j)
		return v * (1 - m*m)
	}, dMu)
	dzStd := mat.NewDense(r, c, nil)
	dzStd.Apply(func(i, j int, v float64) float64 {
		t := g.lastTanh.At(i, j)
		return v * 0.5 * (LogStdMax - LogStdMin) * (1 - t*t)
	}, dLogStd)

	dh := g.mu.Backward(dzMu)
	dh.Add(dh, g.logStd.Backward(dzStd))
	return g.hidden.backward(dh)
}

// Sample draws an action for one state and returns it with its distribution.
func (g *GaussianDist) Sample(state []float64, rng *rand.Rand) ([]float64, Dist) {
	d := g.Forward(rowMatrix(state))
	action := make([]float64, g.OutputSize)
	for j := range action {
		action[j] = d.Mu.At(0, j) + d.Std.At(0, j)*rng.NormFloat64()
	}
	return action, d
}

// Mean returns the deterministic action for one state.
func (g *GaussianDist) Mean(state []float64) []float64 {
	d := g.Forward(rowMatrix(state))
	return append([]float64(nil), d.Mu.RawRowView(0)...)
}

// Params returns the trainable parameters in a stable order.
func (g *GaussianDist) Params() []*Param {
	ps := g.hidden.params()
	ps = append(ps, g.mu.params()...)
	return append(ps, g.logStd.params()...)
}

// ZeroGrad clears accumulated gradients.
func (g *GaussianDist) ZeroGrad() { paramSet(g.Params()).zeroGrad() }

// StateDict snapshots the parameter values.
func (g *GaussianDist) StateDict() StateDict { return paramSet(g.Params()).stateDict() }

// LoadStateDict replaces parameter values; nothing is changed on error.
func (g *GaussianDist) LoadStateDict(sd StateDict) error { return paramSet(g.Params()).load(sd) }

// To places the network on d.
func (g *GaussianDist) To(d Device) error {
	if err := checkDevice(d); err != nil {
		return err
	}
	g.device = d
	return nil
}

// Device reports where the network lives.
func (g *GaussianDist) Device() Device { return g.device }
