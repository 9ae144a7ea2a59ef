package agent

import (
	"sync"
	"time"

	"github.com/cartridge/reinforce/internal/storage"
)

// RunState is the lifecycle state of a run.
type RunState string

const (
	StatePending   RunState = "pending"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// RunStatus is a point-in-time view of a run.
type RunStatus struct {
	RunID         string       `json:"run_id"`
	EnvID         string       `json:"env_id"`
	Mode          storage.Mode `json:"mode,omitempty"`
	State         RunState     `json:"state"`
	Episode       int          `json:"episode"`
	TotalEpisodes int          `json:"total_episodes"`
	LastScore     *float64     `json:"last_score,omitempty"`
	BestScore     *float64     `json:"best_score,omitempty"`
	PolicyLoss    float64      `json:"policy_loss"`
	ValueLoss     float64      `json:"value_loss"`
	LastError     string       `json:"last_error,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
	EndedAt       *time.Time   `json:"ended_at,omitempty"`
}

// Tracker guards a RunStatus shared between the agent and its readers.
type Tracker struct {
	mu     sync.RWMutex
	status RunStatus
}

// NewTracker returns a tracker in the pending state.
func NewTracker() *Tracker {
	return &Tracker{status: RunStatus{State: StatePending, UpdatedAt: time.Now().UTC()}}
}

// Status returns a copy of the current status.
func (t *Tracker) Status() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.status
	if s.LastScore != nil {
		v := *s.LastScore
		s.LastScore = &v
	}
	if s.BestScore != nil {
		v := *s.BestScore
		s.BestScore = &v
	}
	return s
}

func (t *Tracker) start(runID, envID string, mode storage.Mode, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.status = RunStatus{
		RunID:         runID,
		EnvID:         envID,
		Mode:          mode,
		State:         StateRunning,
		TotalEpisodes: total,
		StartedAt:     &now,
		UpdatedAt:     now,
	}
}

func (t *Tracker) episode(episode int, score, policyLoss, valueLoss float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Episode = episode
	t.status.LastScore = &score
	if t.status.BestScore == nil || score > *t.status.BestScore {
		best := score
		t.status.BestScore = &best
	}
	t.status.PolicyLoss = policyLoss
	t.status.ValueLoss = valueLoss
	t.status.UpdatedAt = time.Now().UTC()
}

func (t *Tracker) finish(state RunState, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.status.State = state
	if err != nil {
		t.status.LastError = err.Error()
	}
	t.status.UpdatedAt = now
	t.status.EndedAt = &now
}
