package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ai-task-platform/internal/config"
	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/task-manager/events"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

func TestNotifier_PublishesJSONKeyedByTask(t *testing.T) {
	w := &MockWriter{}
	var sent []kafka.Message
	w.On("WriteMessages", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = append(sent, args.Get(1).([]kafka.Message)...)
	}).Return(nil).Once()
	w.On("Close").Return(nil)

	n := NewNotifier(w, logger.NewNop())
	n.Notify(context.Background(), events.TaskCompleted, events.TaskEventPayload{
		Event:      events.TaskCompleted,
		TaskID:     42,
		UserID:     7,
		TaskType:   "seo_audit",
		Status:     "completed",
		Title:      "Audit",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, n.Close())

	require.Len(t, sent, 1)
	assert.Equal(t, "42", string(sent[0].Key))
	assert.Equal(t, []kafka.Header{{Key: "event", Value: []byte("task.completed")}}, sent[0].Headers)
	assert.JSONEq(t, `{
		"event": "task.completed",
		"task_id": 42,
		"user_id": 7,
		"task_type": "seo_audit",
		"status": "completed",
		"title": "Audit",
		"occurred_at": "2026-01-02T03:04:05Z"
	}`, string(sent[0].Value))
	w.AssertExpectations(t)
}

func TestNotifier_WriteErrorsAreSwallowed(t *testing.T) {
	w := &MockWriter{}
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("leader not available"))
	w.On("Close").Return(nil)

	n := NewNotifier(w, logger.NewNop())
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), events.TaskFailed, events.TaskEventPayload{TaskID: 1, Error: "boom"})
	})
	require.NoError(t, n.Close())
	w.AssertNumberOfCalls(t, "WriteMessages", 1)
}

func TestNotifier_OutlivesCallerContext(t *testing.T) {
	w := &MockWriter{}
	w.On("WriteMessages", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(nil)
	w.On("Close").Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	n := NewNotifier(w, logger.NewNop())
	n.Notify(ctx, events.TaskCreated, events.TaskEventPayload{TaskID: 3})
	cancel()
	require.NoError(t, n.Close())
	w.AssertExpectations(t)
}

func TestNewWriter_DefaultsTopic(t *testing.T) {
	w := NewWriter(config.KafkaConfig{Brokers: []string{"b1:9092", "b2:9092"}})
	assert.Equal(t, DefaultEventsTopic, w.Topic)
	assert.Equal(t, "b1:9092,b2:9092", w.Addr.String())
	require.NoError(t, w.Close())
}
