package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/interfaces"
)

type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher writes to brokers. The topic is chosen per message.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	msg, err := buildMessage(topic, event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// keyed events are partitioned by their aggregate id so consumers see
// one account's or card's events in order.
type keyed interface {
	PartitionKey() string
}

func buildMessage(topic string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := kafka.Message{
		Topic: topic,
		Value: data,
	}
	if k, ok := event.(keyed); ok {
		msg.Key = []byte(k.PartitionKey())
	}
	return msg, nil
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
