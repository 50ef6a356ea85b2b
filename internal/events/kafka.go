package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher produces obligation events onto a topic keyed by company, so
// consumers see each company's transitions in order. Produce is asynchronous;
// failures are logged, never surfaced to the derivation path.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher connects to the brokers and ensures the topic exists.
func NewKafkaPublisher(ctx context.Context, seeds []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := adm.CreateTopic(ensureCtx, 3, 1, nil, topic); err != nil {
		// Already-exists is fine; anything else is reported but not fatal,
		// the broker may auto-create on first produce.
		if logger != nil {
			logger.Warn("ensure kafka topic", "topic", topic, "error", err)
		}
	}

	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "marshal event", "error", err)
		}
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.CompanyID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil && p.logger != nil {
			p.logger.ErrorContext(ctx, "produce event",
				"type", event.Type,
				"company_id", event.CompanyID,
				"error", err,
			)
		}
	})
}

// Close flushes pending records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	p.client.Close()
	return nil
}
