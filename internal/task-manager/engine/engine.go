// Package engine runs the task lifecycle: creation with credit debit,
// dependency promotion, approval, cancellation and batched dispatch to
// per-type processors.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/models"
	"ai-task-platform/internal/task-manager/db"
	"ai-task-platform/internal/task-manager/events"
)

// Processor performs the work of one task type.
type Processor interface {
	ValidateInputs(inputs json.RawMessage) error
	Process(ctx context.Context, task *db.Task) (any, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, task *db.Task, dependsOn []uint) error
	GetTask(ctx context.Context, id uint) (*db.Task, error)
	ListTasks(ctx context.Context, f db.TaskFilter) ([]db.Task, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]db.Task, error)
	MissingIDs(ctx context.Context, ids []uint) ([]uint, error)
	Statuses(ctx context.Context, ids []uint) (map[uint]models.Status, error)
	DependencyIDs(ctx context.Context, taskID uint) ([]uint, error)
	AddDependency(ctx context.Context, taskID, dependsOnID uint) error
	Transition(ctx context.Context, id uint, from []models.Status, to models.Status, extra map[string]interface{}) (bool, error)
	CountByStatus(ctx context.Context, userID uint) (map[models.Status]int64, error)
	AppendLog(ctx context.Context, taskID uint, message string, level models.LogLevel) error
	TaskLogs(ctx context.Context, taskID uint) ([]db.TaskLog, error)
}

type Ledger interface {
	Lock(userID uint) func()
	Balance(ctx context.Context, userID uint) (int64, error)
	Debit(ctx context.Context, userID uint, amount int64, txType models.TransactionType, refType models.ReferenceType, refID uint) error
}

// Notifier receives task lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, event string, payload events.TaskEventPayload)
}

// DispatchTrigger asks the scheduler for an immediate dispatch pass.
type DispatchTrigger interface {
	TriggerDispatch()
}

type Options struct {
	// BatchLimit caps how many pending tasks one dispatch pass claims.
	BatchLimit  int
	// Workers bounds concurrent processors; 1 processes strictly in order.
	Workers     int
	TaskTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchLimit <= 0 {
		o.BatchLimit = 10
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 30 * time.Second
	}
	return o
}

type Engine struct {
	store    TaskStore
	ledger   Ledger
	notifier Notifier
	log      *logger.Logger
	opts     Options

	mu         sync.RWMutex
	types      map[models.TaskTypeKey]models.TaskType
	processors map[models.TaskTypeKey]Processor
	trigger    DispatchTrigger

	// passMu serializes dispatch and dependency passes.
	passMu sync.Mutex

	// depMu serializes dependency-graph mutations so cycle checks see a stable graph.
	depMu sync.Mutex

	now func() time.Time
}

func New(store TaskStore, ledger Ledger, notifier Notifier, log *logger.Logger, opts Options) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		store:      store,
		ledger:     ledger,
		notifier:   notifier,
		log:        log.Named("engine"),
		opts:       opts.withDefaults(),
		types:      make(map[models.TaskTypeKey]models.TaskType),
		processors: make(map[models.TaskTypeKey]Processor),
		now:        time.Now,
	}
}

// SetDispatchTrigger wires the scheduler used after approvals.
func (e *Engine) SetDispatchTrigger(t DispatchTrigger) {
	e.mu.Lock()
	e.trigger = t
	e.mu.Unlock()
}

func (e *Engine) triggerDispatch() {
	e.mu.RLock()
	t := e.trigger
	e.mu.RUnlock()
	if t != nil {
		t.TriggerDispatch()
	}
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, events.TaskEventPayload) {}

func (e *Engine) notify(ctx context.Context, event string, task *db.Task, errMsg string) {
	e.notifier.Notify(ctx, event, events.TaskEventPayload{
		Event:      event,
		TaskID:     task.ID,
		UserID:     task.UserID,
		TaskType:   task.TaskType,
		Status:     string(task.Status),
		Title:      task.Title,
		Error:      errMsg,
		OccurredAt: e.now(),
	})
}

// appendLog writes a task log entry; a failing log sink never fails the caller.
func (e *Engine) appendLog(ctx context.Context, taskID uint, level models.LogLevel, message string) {
	if err := e.store.AppendLog(ctx, taskID, message, level); err != nil {
		e.log.Errorw("failed to append task log", "task_id", taskID, "message", message, "error", err)
	}
}
