package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Collector records training metrics in a prometheus registry and, when
// reporting is enabled, mirrors every observation to the log.
type Collector struct {
	logger   zerolog.Logger
	report   bool
	registry *prometheus.Registry

	episodes   *prometheus.CounterVec
	score      *prometheus.GaugeVec
	steps      *prometheus.HistogramVec
	policyLoss prometheus.Gauge
	valueLoss  prometheus.Gauge
}

// NewCollector creates a Collector with its own registry.
func NewCollector(logger zerolog.Logger, report bool) *Collector {
	c := &Collector{
		logger:   logger,
		report:   report,
		registry: prometheus.NewRegistry(),
		episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reinforce_episodes_total",
			Help: "Finished episodes by mode.",
		}, []string{"mode"}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reinforce_episode_score",
			Help: "Undiscounted score of the last finished episode.",
		}, []string{"mode"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reinforce_episode_steps",
			Help:    "Episode length in environment steps.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 8),
		}, []string{"mode"}),
		policyLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reinforce_policy_loss",
			Help: "Policy loss of the last update.",
		}),
		valueLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reinforce_value_loss",
			Help: "Baseline loss of the last update.",
		}),
	}
	c.registry.MustRegister(c.episodes, c.score, c.steps, c.policyLoss, c.valueLoss)
	return c
}

// Registry exposes the registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Track a finished training episode and its update
func (c *Collector) TrainEpisode(episode, steps int, score, policyLoss, valueLoss float64) {
	c.episodes.WithLabelValues("train").Inc()
	c.score.WithLabelValues("train").Set(score)
	c.steps.WithLabelValues("train").Observe(float64(steps))
	c.policyLoss.Set(policyLoss)
	c.valueLoss.Set(valueLoss)

	if !c.report {
		return
	}
	c.logger.Info().
		Str("metric", "train_episode").
		Int("episode", episode).
		Int("steps", steps).
		Float64("score", score).
		Float64("total_loss", policyLoss+valueLoss).
		Float64("policy_loss", policyLoss).
		Float64("value_loss", valueLoss).
		Msg("Training metric")
}

// Track a finished evaluation episode
func (c *Collector) TestEpisode(episode, steps int, score float64) {
	c.episodes.WithLabelValues("test").Inc()
	c.score.WithLabelValues("test").Set(score)
	c.steps.WithLabelValues("test").Observe(float64(steps))

	if !c.report {
		return
	}
	c.logger.Info().
		Str("metric", "test_episode").
		Int("episode", episode).
		Int("steps", steps).
		Float64("score", score).
		Msg("Evaluation metric")
}

// Track hyperparameters once at the start of a run
func (c *Collector) HyperParameters(params map[string]float64) {
	if !c.report {
		return
	}
	ev := c.logger.Info().Str("metric", "hyper_parameters")
	for k, v := range params {
		ev = ev.Float64(k, v)
	}
	ev.Msg("Run configuration")
}
