package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openbankingproject-ch/Open-API-Kundenbeziehung/internal/platform/kafka/producer"
)

// KafkaStore forwards audit events to a Kafka topic. Events are keyed by
// consent id so all events for one consent land in the same partition and
// preserve ordering for compliance consumers.
type KafkaStore struct {
	producer *producer.Producer
	topic    string
}

// NewKafkaStore constructs a Kafka-backed audit sink.
func NewKafkaStore(p *producer.Producer, topic string) *KafkaStore {
	return &KafkaStore{producer: p, topic: topic}
}

func (s *KafkaStore) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.producer.Produce(ctx, &producer.Message{
		Topic: s.topic,
		Key:   []byte(event.ConsentID),
		Value: payload,
		Headers: map[string]string{
			"action": event.Action,
		},
	})
}
