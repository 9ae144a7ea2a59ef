package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher implements Publisher using NATS
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSPublisher creates a new NATS-backed publisher
func NewNATSPublisher(natsURL, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(natsURL, nats.Name("reinforce"))
	if err != nil {
		return nil, err
	}

	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// Close flushes pending messages and closes the NATS connection
func (n *NATSPublisher) Close() {
	if n.conn != nil {
		if err := n.conn.Flush(); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to flush NATS connection")
		}
		n.conn.Close()
	}
}

// PublishEpisode publishes episode summaries on <subject>.episodes
func (n *NATSPublisher) PublishEpisode(ctx context.Context, event EpisodeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := EpisodeSubject(n.subject)
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish episode")
		return err
	}

	n.logger.Debug().
		Str("run_id", event.RunID).
		Int("episode", event.Episode).
		Str("subject", subject).
		Msg("Published episode event")

	return nil
}

// PublishRunStatus publishes run status events on <subject>.status
func (n *NATSPublisher) PublishRunStatus(ctx context.Context, event RunStatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := StatusSubject(n.subject)
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish run status")
		return err
	}

	// Failed runs are also routed to an alerting subject
	if event.State == "failed" {
		routingKey := n.subject + ".error"
		if err := n.conn.Publish(routingKey, data); err != nil {
			n.logger.Error().Err(err).Str("routing_key", routingKey).Msg("Failed to publish to routing key")
		}
	}

	n.logger.Debug().
		Str("run_id", event.RunID).
		Str("state", event.State).
		Str("subject", subject).
		Msg("Published run status event")

	return nil
}

// EpisodeSubject returns the subject episode events are published on.
func EpisodeSubject(base string) string { return base + ".episodes" }

// StatusSubject returns the subject run status events are published on.
func StatusSubject(base string) string { return base + ".status" }
