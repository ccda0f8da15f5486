package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"

	"ai-task-platform/internal/models"
	"ai-task-platform/internal/task-manager/db"
	"ai-task-platform/internal/task-manager/events"
)

type CreateTaskRequest struct {
	UserID       uint
	Type         models.TaskTypeKey
	Title        string
	Description  string
	Inputs       json.RawMessage
	Priority     int
	Dependencies []uint
}

// CreateTask validates req, checks and debits the type's cost, and persists the
// task in waiting_dependency, approval_required or pending.
func (e *Engine) CreateTask(ctx context.Context, req CreateTaskRequest) (*db.Task, error) {
	taskType, ok := e.taskType(string(req.Type))
	if !ok {
		return nil, fmt.Errorf("task type %q: %w", req.Type, models.ErrInvalidTaskType)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, models.ErrEmptyTitle
	}
	inputs, err := normalizeInputs(req.Inputs)
	if err != nil {
		return nil, err
	}
	deps := uniqueIDs(req.Dependencies)
	if len(deps) > 0 {
		missing, err := e.store.MissingIDs(ctx, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve dependencies: %w", err)
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("tasks %v: %w", missing, models.ErrInvalidDependency)
		}
	}

	task := &db.Task{
		UserID:      req.UserID,
		TaskType:    string(taskType.Key),
		Status:      taskType.InitialStatus(len(deps) > 0),
		Title:       title,
		Description: req.Description,
		Inputs:      datatypes.JSON(inputs),
		CreditsCost: taskType.CreditsCost,
		Priority:    clampPriority(req.Priority),
	}

	if err := e.persistAndDebit(ctx, task, deps); err != nil {
		return nil, err
	}

	e.appendLog(ctx, task.ID, models.LogLevelInfo, "Task created")
	e.log.Infow("task created",
		"task_id", task.ID,
		"user_id", task.UserID,
		"task_type", task.TaskType,
		"status", task.Status,
		"priority", task.Priority,
		"dependencies", deps,
	)
	e.notify(ctx, events.TaskCreated, task, "")
	return task, nil
}

// persistAndDebit runs the balance check, insert and debit under the user's
// ledger lock so two creations cannot both spend the same credits.
func (e *Engine) persistAndDebit(ctx context.Context, task *db.Task, deps []uint) error {
	unlock := e.ledger.Lock(task.UserID)
	defer unlock()

	if task.CreditsCost > 0 {
		balance, err := e.ledger.Balance(ctx, task.UserID)
		if err != nil {
			return fmt.Errorf("failed to read credit balance: %w", err)
		}
		if balance < task.CreditsCost {
			return fmt.Errorf("balance %d, cost %d: %w", balance, task.CreditsCost, models.ErrInsufficientCredits)
		}
	}

	if err := e.store.CreateTask(ctx, task, deps); err != nil {
		return fmt.Errorf("failed to persist task: %w", err)
	}
	if task.CreditsCost == 0 {
		return nil
	}

	if err := e.ledger.Debit(ctx, task.UserID, task.CreditsCost, models.TxTaskCost, models.RefTask, task.ID); err != nil {
		e.log.Errorw("task debit failed, marking task failed", "task_id", task.ID, "user_id", task.UserID, "error", err)
		now := e.now()
		if _, terr := e.store.Transition(ctx, task.ID, []models.Status{task.Status}, models.StatusFailed, map[string]interface{}{"completed_at": now}); terr != nil {
			e.log.Errorw("failed to mark task failed", "task_id", task.ID, "error", terr)
		} else {
			task.Status = models.StatusFailed
			task.CompletedAt = &now
		}
		e.appendLog(ctx, task.ID, models.LogLevelError, "Credit debit failed: "+err.Error())
		return fmt.Errorf("failed to debit task cost: %w", err)
	}
	return nil
}

// normalizeInputs accepts an empty value or a JSON object and returns it
// unchanged, keeping key order.
func normalizeInputs(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []byte("{}"), nil
	}
	if trimmed[0] != '{' || !sonic.Valid(trimmed) {
		return nil, models.ErrInvalidInputs
	}
	return trimmed, nil
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func uniqueIDs(ids []uint) []uint {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
