package kafka

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"

	"ai-task-platform/internal/config"
	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/task-manager/events"
)

const (
	DefaultEventsTopic = "ai_task_events"
	writeTimeout       = 10 * time.Second
)

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	topic := cfg.EventsTopic
	if topic == "" {
		topic = DefaultEventsTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Notifier publishes task lifecycle events as JSON, keyed by task id so events
// of one task stay ordered within a partition. Publishing is fire-and-forget.
type Notifier struct {
	writer MessageWriter
	log    *logger.Logger
	wg     sync.WaitGroup
}

func NewNotifier(w MessageWriter, log *logger.Logger) *Notifier {
	return &Notifier{writer: w, log: log.Named("kafka_notifier")}
}

func (n *Notifier) Notify(ctx context.Context, event string, payload events.TaskEventPayload) {
	value, err := sonic.Marshal(payload)
	if err != nil {
		n.log.Errorw("failed to encode task event", "event", event, "task_id", payload.TaskID, "error", err)
		return
	}
	msg := kafka.Message{
		Key:     []byte(strconv.FormatUint(uint64(payload.TaskID), 10)),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(event)}},
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()
		if err := n.writer.WriteMessages(wctx, msg); err != nil {
			n.log.Errorw("failed to publish task event", "event", event, "task_id", payload.TaskID, "error", err)
			return
		}
		n.log.Debugw("task event published", "event", event, "task_id", payload.TaskID)
	}()
}

// Close waits for in-flight publishes and closes the writer.
func (n *Notifier) Close() error {
	n.wg.Wait()
	return n.writer.Close()
}
