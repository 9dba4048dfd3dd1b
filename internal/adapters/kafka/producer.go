package kafka

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"costtrend/internal/metrics"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

// Producer handles Kafka message publishing
type Producer struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
	log     *logger.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers []string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, log *logger.Logger) *Producer {
	return &Producer{
		writers: make(map[string]*kafka.Writer),
		brokers: cfg.Brokers,
		log:     log.With("component", "kafka_producer"),
	}
}

// getWriter returns or creates a writer for a topic
func (p *Producer) getWriter(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  false, // Synchronous by default for reliability
	}

	p.writers[topic] = w
	return w
}

// Publish sends one message to a topic. Messages with the same key land on the same partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, data []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	err := p.getWriter(topic).WriteMessages(ctx, msg)
	metrics.RecordKafkaMessage(topic, err)
	if err != nil {
		p.log.Errorw("Failed to publish", "topic", topic, "key", key, "error", err)
		return errors.Wrapf(err, "publish to %s", topic)
	}

	p.log.Debugw("Published", "topic", topic, "key", key, "size_bytes", len(data))
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs errors.MultiError
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorw("Failed to close writer", "topic", topic, "error", err)
			errs.Add(err)
		}
	}
	if errs.HasErrors() {
		return &errs
	}
	return nil
}
