package engine

import (
	"context"

	"ai-task-platform/internal/models"
	"ai-task-platform/internal/task-manager/db"
)

func (e *Engine) GetTask(ctx context.Context, id uint) (*db.Task, error) {
	return e.store.GetTask(ctx, id)
}

func (e *Engine) ListTasks(ctx context.Context, f db.TaskFilter) ([]db.Task, error) {
	return e.store.ListTasks(ctx, f)
}

func (e *Engine) TaskLogs(ctx context.Context, taskID uint) ([]db.TaskLog, error) {
	if _, err := e.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.store.TaskLogs(ctx, taskID)
}

// Stats counts tasks per status; userID 0 counts every user.
func (e *Engine) Stats(ctx context.Context, userID uint) (map[models.Status]int64, error) {
	return e.store.CountByStatus(ctx, userID)
}
