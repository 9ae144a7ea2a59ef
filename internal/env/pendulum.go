package env

import (
	"math"
	"math/rand"
)

const (
	pendulumMaxSpeed  = 8.0
	pendulumMaxTorque = 2.0
	pendulumDt        = 0.05
	pendulumGravity   = 10.0
	pendulumMass      = 1.0
	pendulumLength    = 1.0
)

// Pendulum is the classic swing-up task. Episodes never end on their own,
// so it is meant to run under a TimeLimit.
type Pendulum struct {
	theta, thetaDot float64
	rng             *rand.Rand
}

// NewPendulum returns an unseeded Pendulum-v0.
func NewPendulum() *Pendulum {
	return &Pendulum{rng: rand.New(rand.NewSource(1))}
}

func (p *Pendulum) Seed(seed int64) { p.rng = rand.New(rand.NewSource(seed)) }

func (p *Pendulum) ObservationSpace() Box {
	return Box{
		Low:  []float64{-1, -1, -pendulumMaxSpeed},
		High: []float64{1, 1, pendulumMaxSpeed},
	}
}

func (p *Pendulum) ActionSpace() Box {
	return Box{Low: []float64{-pendulumMaxTorque}, High: []float64{pendulumMaxTorque}}
}

func (p *Pendulum) Reset() ([]float64, error) {
	p.theta = (2*p.rng.Float64() - 1) * math.Pi
	p.thetaDot = 2*p.rng.Float64() - 1
	return p.observe(), nil
}

func (p *Pendulum) Step(action []float64) ([]float64, float64, bool, error) {
	if err := checkAction(action, p.ActionSpace()); err != nil {
		return nil, 0, false, err
	}
	u := clamp(action[0], -pendulumMaxTorque, pendulumMaxTorque)
	th, thDot := p.theta, p.thetaDot

	cost := sq(normalizeAngle(th)) + 0.1*sq(thDot) + 0.001*sq(u)

	g, m, l := pendulumGravity, pendulumMass, pendulumLength
	newThDot := thDot + (-3*g/(2*l)*math.Sin(th+math.Pi)+3/(m*l*l)*u)*pendulumDt
	p.theta = th + newThDot*pendulumDt
	p.thetaDot = clamp(newThDot, -pendulumMaxSpeed, pendulumMaxSpeed)

	return p.observe(), -cost, false, nil
}

func (p *Pendulum) Render() error { return nil }

func (p *Pendulum) Close() error { return nil }

func (p *Pendulum) observe() []float64 {
	return []float64{math.Cos(p.theta), math.Sin(p.theta), p.thetaDot}
}

// normalizeAngle wraps x into [-pi, pi).
func normalizeAngle(x float64) float64 {
	r := math.Mod(x+math.Pi, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	return r - math.Pi
}

func sq(x float64) float64 { return x * x }
