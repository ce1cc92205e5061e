package queue

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// Producer publishes task messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, message *TaskMessage) error
	Close() error
}

type saramaProducer struct {
	producer sarama.SyncProducer
}

// NewProducer creates a synchronous Kafka producer that waits for full
// acknowledgement before returning, so a created task is durably enqueued
// or the caller knows it is not.
func NewProducer(brokers []string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &saramaProducer{producer: p}, nil
}

func (p *saramaProducer) Publish(ctx context.Context, topic string, message *TaskMessage) error {
	data, err := message.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode task message: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(message.TaskID),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish task message: %w", err)
	}
	return nil
}

func (p *saramaProducer) Close() error {
	return p.producer.Close()
}
