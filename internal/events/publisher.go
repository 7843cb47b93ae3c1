// Package events publishes transcription events to Kafka.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/observability/metrics"
	"conversation-transcriber-service/internal/schema"
)

// Publisher publishes transcript events to separate Kafka topics: partial
// results, final results and session lifecycle events.
type Publisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	writerSession *kafka.Writer
	principal     string
	topicPartial  string
	topicFinal    string
	topicSession  string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	TopicSession string
	Principal    string
	Enabled      bool
}

// New creates a Kafka event publisher. With a nil or disabled config, or
// no brokers, events are only logged.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicPartial: cfg.TopicPartial,
			topicFinal:   cfg.TopicFinal,
			topicSession: cfg.TopicSession,
			enabled:      false,
			metrics:      m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicSession", cfg.TopicSession).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerPartial: newWriter(cfg.TopicPartial),
		writerFinal:   newWriter(cfg.TopicFinal),
		writerSession: newWriter(cfg.TopicSession),
		principal:     cfg.Principal,
		topicPartial:  cfg.TopicPartial,
		topicFinal:    cfg.TopicFinal,
		topicSession:  cfg.TopicSession,
		enabled:       true,
		metrics:       m,
	}
}

// Publish validates ev's wire form and routes it by kind. Messages are
// keyed by conversation so that one conversation stays on one partition.
func (p *Publisher) Publish(ctx context.Context, ev models.TranscriptionEvent) error {
	wire := ev.Wire()
	if err := schema.Validate(wire); err != nil {
		return fmt.Errorf("invalid %s event: %w", wire.EventType, err)
	}

	switch ev.Kind {
	case models.EventTranscribing:
		return p.PublishPartial(ctx, ev.ConversationID, wire)
	case models.EventTranscribed:
		return p.PublishFinal(ctx, ev.ConversationID, wire)
	default:
		return p.PublishSession(ctx, ev.ConversationID, wire)
	}
}

// Listener returns a session listener that publishes every event. Failures
// are logged and counted; they never affect the session.
func (p *Publisher) Listener(ctx context.Context) func(models.TranscriptionEvent) {
	return func(ev models.TranscriptionEvent) {
		if err := p.Publish(ctx, ev); err != nil {
			log.Warn().
				Err(err).
				Str("conversationId", ev.ConversationID).
				Str("sessionId", ev.SessionID).
				Uint64("sequence", ev.Sequence).
				Msg("Event not published")
		}
	}
}

// PublishPartial publishes a partial transcript event to the partial topic.
func (p *Publisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, models.EventTypePartial, key, event)
}

// PublishFinal publishes a final transcript event to the final topic.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, models.EventTypeFinal, key, event)
}

// PublishSession publishes a lifecycle event to the session topic.
func (p *Publisher) PublishSession(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerSession, p.topicSession, "session", key, event)
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

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for name, w := range map[string]*kafka.Writer{
		"partial": p.writerPartial,
		"final":   p.writerFinal,
		"session": p.writerSession,
	} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("writer", name).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
