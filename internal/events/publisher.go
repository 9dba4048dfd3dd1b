package events

import (
	"context"
	"encoding/json"

	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// Producer sends raw messages to a topic.
// Implemented by internal/adapters/kafka.Producer.
type Producer interface {
	Publish(ctx context.Context, topic, key string, data []byte) error
}

// Sink receives job lifecycle events
type Sink interface {
	PublishJobEvent(ctx context.Context, e *JobEvent) error
}

// Publisher publishes job events to Kafka as JSON, keyed by job id
type Publisher struct {
	producer Producer
	topic    string
	log      *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(producer Producer, topic string, log *logger.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		log:      log.With("component", "event_publisher"),
	}
}

// PublishJobEvent publishes one job event
func (p *Publisher) PublishJobEvent(ctx context.Context, e *JobEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal job event")
	}

	if err := p.producer.Publish(ctx, p.topic, e.JobID, data); err != nil {
		return errors.Wrap(err, "send to kafka")
	}

	p.log.Debugw("Event published",
		"type", e.Type,
		"job_id", e.JobID,
		"size_bytes", len(data),
	)
	return nil
}

// NopSink drops events. Used when no brokers are configured.
type NopSink struct{}

// PublishJobEvent implements Sink
func (NopSink) PublishJobEvent(context.Context, *JobEvent) error { return nil }
