// Package events publishes call lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/observability/metrics"
)

// Event type names carried in the eventType header and payload.
const (
	EventCallIngested = "call.ingested"
	EventCallAnalyzed = "call.analyzed"
)

// Publisher publishes call events to one topic per event type. Without
// brokers it only logs.
type Publisher struct {
	writerIngested *kafka.Writer
	writerAnalyzed *kafka.Writer
	principal      string
	topicIngested  string
	topicAnalyzed  string
	enabled        bool
	metrics        *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicIngested string
	TopicAnalyzed string
	Principal     string
	Enabled       bool
}

// New creates a Kafka publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicIngested: cfg.TopicIngested,
			topicAnalyzed: cfg.TopicAnalyzed,
			metrics:       m,
		}
	}

	// longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicIngested", cfg.TopicIngested).
		Str("topicAnalyzed", cfg.TopicAnalyzed).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerIngested: newWriter(cfg.Brokers, cfg.TopicIngested, transport),
		writerAnalyzed: newWriter(cfg.Brokers, cfg.TopicAnalyzed, transport),
		principal:      cfg.Principal,
		topicIngested:  cfg.TopicIngested,
		topicAnalyzed:  cfg.TopicAnalyzed,
		enabled:        true,
		metrics:        m,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // events for one call stay on one partition
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishIngested publishes a call.ingested event keyed by call id.
func (p *Publisher) PublishIngested(ctx context.Context, ev models.CallIngested) error {
	ev.EventType = EventCallIngested
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	return p.publish(ctx, p.writerIngested, p.topicIngested, EventCallIngested, ev.CallID, ev)
}

// PublishAnalyzed publishes a call.analyzed event keyed by call id.
func (p *Publisher) PublishAnalyzed(ctx context.Context, ev models.CallAnalyzed) error {
	ev.EventType = EventCallAnalyzed
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	return p.publish(ctx, p.writerAnalyzed, p.topicAnalyzed, EventCallAnalyzed, ev.CallID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var errs []error
	if p.writerIngested != nil {
		if err := p.writerIngested.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing ingested writer")
			errs = append(errs, err)
		}
	}
	if p.writerAnalyzed != nil {
		if err := p.writerAnalyzed.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing analyzed writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
