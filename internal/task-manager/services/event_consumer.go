package services

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"

	"ai-task-platform/internal/config"
	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/models"
	"ai-task-platform/internal/task-manager/events"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// PassTrigger requests immediate engine passes.
type PassTrigger interface {
	TriggerDispatch()
	TriggerDependencyCheck()
}

func NewEventReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.ConsumerGroup,
		Topic:          cfg.EventsTopic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
}

// EventConsumer reads task lifecycle events and wakes the scheduler so a
// worker reacts to new, approved and finished tasks without waiting for the
// next interval pass.
type EventConsumer struct {
	Reader  MessageReader
	trigger PassTrigger
	log     *logger.Logger

	readTimeout time.Duration
	retryDelay  time.Duration
}

func NewEventConsumer(reader MessageReader, trigger PassTrigger, log *logger.Logger) *EventConsumer {
	return &EventConsumer{
		Reader:      reader,
		trigger:     trigger,
		log:         log.Named("event_consumer"),
		readTimeout: 5 * time.Second,
		retryDelay:  time.Second,
	}
}

// Consume blocks until ctx is canceled or the reader is closed.
func (c *EventConsumer) Consume(ctx context.Context) {
	c.log.Info("consuming task events")
	for {
		if ctx.Err() != nil {
			c.log.Info("context canceled, stopping consumer")
			return
		}
		readCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
		msg, err := c.Reader.ReadMessage(readCtx)
		cancel()

		switch {
		case err == nil:
			c.handle(msg)
		case errors.Is(err, context.DeadlineExceeded):
		case errors.Is(err, context.Canceled):
			c.log.Info("read canceled, stopping consumer")
			return
		case errors.Is(err, io.EOF):
			c.log.Info("kafka reader closed, stopping consumer")
			return
		default:
			c.log.Errorw("error reading message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
		}
	}
}

func (c *EventConsumer) handle(msg kafka.Message) {
	var payload events.TaskEventPayload
	if err := sonic.Unmarshal(msg.Value, &payload); err != nil {
		c.log.Warnw("dropping malformed task event", "offset", msg.Offset, "error", err)
		return
	}
	c.log.Debugw("task event received", "event", payload.Event, "task_id", payload.TaskID, "partition", msg.Partition, "offset", msg.Offset)

	switch payload.Event {
	case events.TaskCreated:
		if payload.Status == string(models.StatusPending) {
			c.trigger.TriggerDispatch()
		}
	case events.TaskApproved:
		c.trigger.TriggerDispatch()
	case events.TaskCompleted, events.TaskFailed, events.TaskCanceled:
		c.trigger.TriggerDependencyCheck()
	}
}

func (c *EventConsumer) Close() {
	if c.Reader == nil {
		return
	}
	if err := c.Reader.Close(); err != nil {
		c.log.Warnw("error closing kafka reader", "error", err)
	}
}
