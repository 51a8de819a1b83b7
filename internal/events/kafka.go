package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per recorded entry, keyed by account id
// so a consumer sees each account's entries in sequence order.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) PublishEntryRecorded(ctx context.Context, entry *domain.LedgerEntry) error {
	data, err := json.Marshal(NewEntryRecorded(entry))
	if err != nil {
		return fmt.Errorf("PublishEntryRecorded: marshal: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.AccountID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeEntryRecorded)},
		},
	})
	if err != nil {
		return fmt.Errorf("PublishEntryRecorded: write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishEntryRecorded(context.Context, *domain.LedgerEntry) error { return nil }

func (NopPublisher) Close() error { return nil }
