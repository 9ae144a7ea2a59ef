package env

// NormalizeActions lets an agent act in [-1, 1] on every dimension and maps
// actions onto the wrapped environment's bounds, clipping anything outside.
type NormalizeActions struct {
	Env
}

// Step rescales action before forwarding it.
func (n NormalizeActions) Step(action []float64) ([]float64, float64, bool, error) {
	space := n.Env.ActionSpace()
	if err := checkAction(action, space); err != nil {
		return nil, 0, false, err
	}
	return n.Env.Step(n.Action(action))
}

// Action maps a normalised action onto the wrapped bounds.
func (n NormalizeActions) Action(action []float64) []float64 {
	space := n.Env.ActionSpace()
	out := make([]float64, len(action))
	for i, a := range action {
		scale := (space.High[i] - space.Low[i]) / 2
		reloc := space.High[i] - scale
		out[i] = a*scale + reloc
	}
	return space.Clip(out)
}

// TimeLimit ends an episode after MaxEpisodeSteps steps. Zero disables it.
type TimeLimit struct {
	Env
	MaxEpisodeSteps int

	elapsed int
}

// NewTimeLimit wraps e with a step cap.
func NewTimeLimit(e Env, maxEpisodeSteps int) *TimeLimit {
	return &TimeLimit{Env: e, MaxEpisodeSteps: maxEpisodeSteps}
}

func (t *TimeLimit) Reset() ([]float64, error) {
	t.elapsed = 0
	return t.Env.Reset()
}

func (t *TimeLimit) Step(action []float64) ([]float64, float64, bool, error) {
	obs, reward, done, err := t.Env.Step(action)
	if err != nil {
		return nil, 0, false, err
	}
	t.elapsed++
	if t.MaxEpisodeSteps > 0 && t.elapsed >= t.MaxEpisodeSteps {
		done = true
	}
	return obs, reward, done, nil
}
