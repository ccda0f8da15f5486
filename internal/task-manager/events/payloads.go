package events

import "time"

// Task lifecycle events published to the notification sink.
const (
	TaskCreated   = "task.created"
	TaskApproved  = "task.approved"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	TaskCanceled  = "task.canceled"
)

// TaskEventPayload is the JSON body of every task lifecycle event.
type TaskEventPayload struct {
	Event      string    `json:"event"`
	TaskID     uint      `json:"task_id"`
	UserID     uint      `json:"user_id"`
	TaskType   string    `json:"task_type"`
	Status     string    `json:"status"`
	Title      string    `json:"title"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
