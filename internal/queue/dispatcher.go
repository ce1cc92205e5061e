package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/forgelight/imageforge/internal/store"
	"github.com/forgelight/imageforge/internal/task"
)

// DispatcherConfig holds the consumer-side delivery settings.
type DispatcherConfig struct {
	// Topic is the task delivery topic.
	Topic string

	// DeadLetterTopic receives messages whose attempts are exhausted.
	DeadLetterTopic string

	// MaxAttempts is the delivery attempt budget per message.
	// If zero or negative, defaults to 3.
	MaxAttempts int

	// RetryBackoff is the redelivery backoff base; the delay doubles per
	// completed attempt (base, 2·base, 4·base, ...).
	// If zero, defaults to 10 seconds.
	RetryBackoff time.Duration
}

// Dispatcher consumes task delivery messages from the broker and drives the
// processor. Delivery is at-least-once: messages are acknowledged after
// handling, and handling failures are redelivered with exponential backoff
// until the attempt budget runs out, at which point the message drains to
// the dead-letter topic with the task left in its failed state.
type Dispatcher struct {
	consumer  sarama.ConsumerGroup
	producer  Producer
	store     store.TaskStore
	process   task.ProcessFunc
	config    DispatcherConfig
	logger    *slog.Logger
	lifecycle context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDispatcher creates a consumer-group dispatcher.
func NewDispatcher(
	brokers []string,
	groupID string,
	producer Producer,
	taskStore store.TaskStore,
	process task.ProcessFunc,
	config DispatcherConfig,
	logger *slog.Logger,
) (*Dispatcher, error) {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 10 * time.Second
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	consumer, err := sarama.NewConsumerGroup(brokers, groupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Dispatcher{
		consumer: consumer,
		producer: producer,
		store:    taskStore,
		process:  process,
		config:   config,
		logger:   logger.With("component", "queue_dispatcher"),
	}, nil
}

// Start launches the consume loop.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.lifecycle = ctx
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		handler := &consumerHandler{dispatcher: d}
		for {
			// Consume returns on rebalance; loop until shutdown.
			if err := d.consumer.Consume(ctx, []string{d.config.Topic}, handler); err != nil {
				d.logger.Error("consume error", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop terminates consumption, waits for in-flight handling (including
// scheduled redeliveries), and closes the consumer.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	if err := d.consumer.Close(); err != nil {
		d.logger.Error("failed to close consumer", "error", err)
	}
}

// lifecycleDone returns the shutdown signal channel, or a channel that
// never fires when Start has not run.
func (d *Dispatcher) lifecycleDone() <-chan struct{} {
	if d.lifecycle == nil {
		return nil
	}
	return d.lifecycle.Done()
}

type consumerHandler struct {
	dispatcher *Dispatcher
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var taskMsg TaskMessage
		if err := json.Unmarshal(msg.Value, &taskMsg); err != nil {
			h.dispatcher.logger.Warn("dropping malformed message",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", err)
			session.MarkMessage(msg, "")
			continue
		}

		h.dispatcher.handleDelivery(session.Context(), &taskMsg)

		// Always acknowledge: redelivery happens by republishing with
		// an incremented attempt count, never by replaying the offset.
		session.MarkMessage(msg, "")
	}
	return nil
}

// handleDelivery processes one delivery and decides its disposition:
// nothing on success, delayed redelivery while attempts remain, dead-letter
// once they are exhausted.
func (d *Dispatcher) handleDelivery(ctx context.Context, msg *TaskMessage) {
	log := d.logger.With("task_id", msg.TaskID, "attempt", msg.Attempts+1)

	taskID, err := msg.taskUUID()
	if err != nil {
		log.Warn("dropping message with invalid task id", "error", err)
		return
	}

	procErr := d.process(ctx, taskID)
	if procErr == nil {
		return
	}
	log.Error("delivery handling failed", "error", procErr)

	// Fail the task directly so it is never left pending forever while
	// redelivery plays out.
	if err := d.store.Fail(ctx, taskID, procErr.Error()); err != nil {
		log.Error("failed to mark task failed", "error", err)
	}

	attempts := msg.Attempts + 1
	if attempts < d.config.MaxAttempts {
		delay := d.config.RetryBackoff * (1 << msg.Attempts)
		log.Info("scheduling redelivery",
			"delay", delay,
			"attempts", attempts,
			"max_attempts", d.config.MaxAttempts)
		messagesRetriedTotal.Inc()

		// The delay waits on the dispatcher's lifecycle, not the consumer
		// session: the original offset is already acknowledged, so a
		// rebalance or shutdown mid-delay must flush the redelivery
		// rather than swallow the remaining attempts. Stop waits for this
		// goroutine before the producer closes.
		retry := *msg
		retry.Attempts = attempts
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			select {
			case <-time.After(delay):
			case <-d.lifecycleDone():
			}
			if err := d.producer.Publish(context.Background(), d.config.Topic, &retry); err != nil {
				d.logger.Error("failed to republish message",
					"task_id", retry.TaskID,
					"error", err)
			}
		}()
		return
	}

	// Attempts exhausted: drain to dead-letter and leave the task failed.
	log.Warn("attempts exhausted, dead-lettering",
		"dead_letter_topic", d.config.DeadLetterTopic)
	messagesDeadLetteredTotal.Inc()

	if d.config.DeadLetterTopic != "" {
		dead := *msg
		dead.Attempts = attempts
		if err := d.producer.Publish(ctx, d.config.DeadLetterTopic, &dead); err != nil {
			d.logger.Error("failed to publish to dead-letter topic",
				"task_id", dead.TaskID,
				"error", err)
		}
	}
}
