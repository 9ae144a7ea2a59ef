package agent

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SelectAction picks an action for state. During training the action is
// sampled from the policy and the pair is kept for the next update; in
// test mode the policy mean is returned and nothing is recorded.
func (a *Agent) SelectAction(state []float64) []float64 {
	if a.cfg.Test {
		return a.actor.Mean(state)
	}
	action, _ := a.actor.Sample(state, a.rng)
	a.states = append(a.states, append([]float64(nil), state...))
	a.actions = append(a.actions, append([]float64(nil), action...))
	return action
}

// Step applies action to the environment and records the reward.
func (a *Agent) Step(action []float64) ([]float64, float64, bool, error) {
	next, reward, done, err := a.env.Step(action)
	if err != nil {
		return nil, 0, false, fmt.Errorf("env step: %w", err)
	}
	if !a.cfg.Test {
		a.rewards = append(a.rewards, reward)
	}
	return next, reward, done, nil
}

// UpdateModel runs one gradient step on the actor and one on the baseline
// using the episode recorded since the last update, then clears it.
//
// The policy loss is sum_t -(G_t - V(s_t)) * log pi(a_t|s_t) with V held
// constant, and the baseline loss is sum_t smoothL1(V(s_t), G_t).
func (a *Agent) UpdateModel() (policyLoss, valueLoss float64, err error) {
	defer a.resetEpisode()

	n := len(a.rewards)
	if n == 0 {
		return 0, 0, ErrEmptyEpisode
	}
	if len(a.states) != n || len(a.actions) != n {
		return 0, 0, fmt.Errorf("episode has %d states, %d actions and %d rewards",
			len(a.states), len(a.actions), n)
	}

	returns := discountedReturns(a.rewards, a.hyper.Gamma)
	states := stack(a.states)
	actions := stack(a.actions)

	values := a.baseline.Forward(states)
	dist := a.actor.Forward(states)
	logProbs := dist.LogProb(actions)

	_, actionDim := actions.Dims()
	dMu := mat.NewDense(n, actionDim, nil)
	dLogStd := mat.NewDense(n, actionDim, nil)
	dValues := mat.NewDense(n, 1, nil)

	for t := 0; t < n; t++ {
		v := values.At(t, 0)
		delta := returns[t] - v
		policyLoss -= delta * logProbs[t]

		for j := 0; j < actionDim; j++ {
			diff := actions.At(t, j) - dist.Mu.At(t, j)
			variance := dist.Std.At(t, j) * dist.Std.At(t, j)
			dMu.Set(t, j, -delta*diff/variance)
			dLogStd.Set(t, j, -delta*(diff*diff/variance-1))
		}

		loss, grad := smoothL1(v - returns[t])
		valueLoss += loss
		dValues.Set(t, 0, grad)
	}

	a.actorOptim.ZeroGrad()
	a.actor.Backward(dMu, dLogStd)
	a.actorOptim.Step()

	a.baselineOptim.ZeroGrad()
	a.baseline.Backward(dValues)
	a.baselineOptim.Step()

	return policyLoss, valueLoss, nil
}

func (a *Agent) resetEpisode() {
	a.states = a.states[:0]
	a.actions = a.actions[:0]
	a.rewards = a.rewards[:0]
}

// discountedReturns computes G_t = r_t + gamma * G_{t+1} backwards.
func discountedReturns(rewards []float64, gamma float64) []float64 {
	out := make([]float64, len(rewards))
	g := 0.0
	for t := len(rewards) - 1; t >= 0; t-- {
		g = rewards[t] + gamma*g
		out[t] = g
	}
	return out
}

// smoothL1 returns the Huber loss with threshold 1 and its derivative.
func smoothL1(d float64) (loss, grad float64) {
	if math.Abs(d) < 1 {
		return 0.5 * d * d, d
	}
	if d > 0 {
		return d - 0.5, 1
	}
	return -d - 0.5, -1
}

func stack(rows [][]float64) *mat.Dense {
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data)
}
