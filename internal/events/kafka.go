package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Kafka publishes events to the broker, one topic per event topic. Records
// are keyed by entity id so consumers see one entity's events in order.
type Kafka struct {
	client *kgo.Client
}

func NewKafka(client *kgo.Client) *Kafka {
	return &Kafka{client: client}
}

func (p *Kafka) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	record := &kgo.Record{
		Topic: event.Topic,
		Key:   []byte(event.EntityID),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}
