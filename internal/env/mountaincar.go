package env

import (
	"math"
	"math/rand"
)

const (
	carMinPosition  = -1.2
	carMaxPosition  = 0.6
	carMaxSpeed     = 0.07
	carGoalPosition = 0.45
	carGoalVelocity = 0.0
	carPower        = 0.0015
)

// MountainCar is the continuous-action mountain car task.
type MountainCar struct {
	position, velocity float64
	rng                *rand.Rand
}

// NewMountainCar returns an unseeded MountainCarContinuous-v0.
func NewMountainCar() *MountainCar {
	return &MountainCar{rng: rand.New(rand.NewSource(1))}
}

func (c *MountainCar) Seed(seed int64) { c.rng = rand.New(rand.NewSource(seed)) }

func (c *MountainCar) ObservationSpace() Box {
	return Box{
		Low:  []float64{carMinPosition, -carMaxSpeed},
		High: []float64{carMaxPosition, carMaxSpeed},
	}
}

func (c *MountainCar) ActionSpace() Box {
	return Box{Low: []float64{-1}, High: []float64{1}}
}

func (c *MountainCar) Reset() ([]float64, error) {
	c.position = -0.6 + 0.2*c.rng.Float64()
	c.velocity = 0
	return c.observe(), nil
}

func (c *MountainCar) Step(action []float64) ([]float64, float64, bool, error) {
	if err := checkAction(action, c.ActionSpace()); err != nil {
		return nil, 0, false, err
	}
	force := clamp(action[0], -1, 1)

	c.velocity += force*carPower - 0.0025*math.Cos(3*c.position)
	c.velocity = clamp(c.velocity, -carMaxSpeed, carMaxSpeed)
	c.position += c.velocity
	c.position = clamp(c.position, carMinPosition, carMaxPosition)
	if c.position == carMinPosition && c.velocity < 0 {
		c.velocity = 0
	}

	done := c.position >= carGoalPosition && c.velocity >= carGoalVelocity
	reward := 0.0
	if done {
		reward = 100
	}
	reward -= 0.1 * sq(action[0])
	return c.observe(), reward, done, nil
}

func (c *MountainCar) Render() error { return nil }

func (c *MountainCar) Close() error { return nil }

func (c *MountainCar) observe() []float64 {
	return []float64{c.position, c.velocity}
}
