// Package env defines continuous-control environments and the wrappers the
// runner applies to them.
package env

import (
	"errors"
	"fmt"
)

// ErrUnknownEnv is returned by Make for ids with no local or remote backend.
var ErrUnknownEnv = errors.New("unknown environment")

// Env is an episodic environment with continuous observations and actions.
type Env interface {
	// Reset starts a new episode and returns the first observation.
	Reset() ([]float64, error)
	// Step applies action and returns the next observation, the reward
	// and whether the episode is over.
	Step(action []float64) (obs []float64, reward float64, done bool, err error)
	ObservationSpace() Box
	ActionSpace() Box
	// Seed reseeds the environment's random source.
	Seed(seed int64)
	Render() error
	Close() error
}

// Box is a bounded continuous space.
type Box struct {
	Low  []float64 `json:"low"`
	High []float64 `json:"high"`
}

// NewBox checks that low and high describe a valid space.
func NewBox(low, high []float64) (Box, error) {
	if len(low) != len(high) {
		return Box{}, fmt.Errorf("box bounds have %d and %d dims", len(low), len(high))
	}
	if len(low) == 0 {
		return Box{}, errors.New("box must have at least one dim")
	}
	for i := range low {
		if low[i] > high[i] {
			return Box{}, fmt.Errorf("box dim %d: low %g above high %g", i, low[i], high[i])
		}
	}
	return Box{Low: low, High: high}, nil
}

// Dim returns the number of dimensions.
func (b Box) Dim() int { return len(b.Low) }

// Clip returns a copy of x clamped into the box.
func (b Box) Clip(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = clamp(v, b.Low[i], b.High[i])
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func checkAction(action []float64, space Box) error {
	if len(action) != space.Dim() {
		return fmt.Errorf("action has %d dims, want %d", len(action), space.Dim())
	}
	return nil
}

func checkObservation(obs []float64, space Box) error {
	if len(obs) != space.Dim() {
		return fmt.Errorf("observation has %d dims, want %d", len(obs), space.Dim())
	}
	return nil
}
