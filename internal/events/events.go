package events

import "context"

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishEpisode(ctx context.Context, payload EpisodeEvent) error
	PublishRunStatus(ctx context.Context, payload RunStatusEvent) error
}

// EpisodeEvent is emitted after every finished episode.
type EpisodeEvent struct {
	RunID      string  `json:"run_id"`
	EnvID      string  `json:"env_id"`
	Mode       string  `json:"mode"`
	Episode    int     `json:"episode"`
	Steps      int     `json:"steps"`
	Score      float64 `json:"score"`
	PolicyLoss float64 `json:"policy_loss"`
	ValueLoss  float64 `json:"value_loss"`
}

// RunStatusEvent is emitted whenever the run changes state.
type RunStatusEvent struct {
	RunID     string `json:"run_id"`
	EnvID     string `json:"env_id"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
	Episode   int    `json:"episode"`
	LastError string `json:"last_error,omitempty"`
}

// NoopPublisher drops every event; useful for tests.
type NoopPublisher struct{}

// PublishEpisode satisfies Publisher.
func (NoopPublisher) PublishEpisode(context.Context, EpisodeEvent) error { return nil }

// PublishRunStatus satisfies Publisher.
func (NoopPublisher) PublishRunStatus(context.Context, RunStatusEvent) error { return nil }
