package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"ai-task-platform/internal/models"
	"ai-task-platform/internal/task-manager/db"
	"ai-task-platform/internal/task-manager/events"
)

// ProcessPending runs one dispatch pass: up to BatchLimit pending tasks are
// claimed in priority DESC, id ASC order and handed to their processors on at
// most Workers goroutines. It returns the number of tasks claimed. Processor
// failures mark the task failed and never abort the pass.
func (e *Engine) ProcessPending(ctx context.Context) (int, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	tasks, err := e.store.ListByStatus(ctx, models.StatusPending, e.opts.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	var claimed int64
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i := range tasks {
		task := &tasks[i]
		g.Go(func() error {
			if !e.claim(ctx, task) {
				return nil
			}
			atomic.AddInt64(&claimed, 1)
			e.run(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	e.log.Infow("dispatch pass finished", "selected", len(tasks), "processed", claimed)
	return int(claimed), nil
}

// claim moves task from pending to processing. It reports false when another
// pass or a cancellation got there first.
func (e *Engine) claim(ctx context.Context, task *db.Task) bool {
	now := e.now()
	ok, err := e.store.Transition(ctx, task.ID, []models.Status{models.StatusPending}, models.StatusProcessing, map[string]interface{}{"started_at": now})
	if err != nil {
		e.log.Errorw("failed to claim task", "task_id", task.ID, "error", err)
		return false
	}
	if !ok {
		return false
	}
	task.Status = models.StatusProcessing
	task.StartedAt = &now
	e.appendLog(ctx, task.ID, models.LogLevelInfo, "Processing started")
	return true
}

type processResult struct {
	outputs any
	err     error
}

// run executes the processor under the task timeout. Cancelling ctx aborts
// the processor, but the terminal write still happens so no task is left in
// processing.
func (e *Engine) run(ctx context.Context, task *db.Task) {
	wctx := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("task processing panicked", "task_id", task.ID, "panic", r, "stack", string(debug.Stack()))
			e.fail(wctx, task, fmt.Sprintf("processor panicked: %v", r))
		}
	}()

	proc, ok := e.processor(task.TaskType)
	if !ok {
		e.fail(wctx, task, fmt.Sprintf("%s: no processor registered for task type %s", models.ErrorCode(models.ErrMissingProcessor), task.TaskType))
		return
	}
	if err := proc.ValidateInputs(json.RawMessage(task.Inputs)); err != nil {
		e.fail(wctx, task, "Invalid inputs: "+err.Error())
		return
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.TaskTimeout)
	defer cancel()

	// buffered so a processor that outlives the timeout can still finish its send
	done := make(chan processResult, 1)
	snapshot := *task
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Errorw("task processor panicked", "task_id", task.ID, "panic", r, "stack", string(debug.Stack()))
				done <- processResult{err: fmt.Errorf("processor panicked: %v", r)}
			}
		}()
		out, err := proc.Process(tctx, &snapshot)
		done <- processResult{outputs: out, err: err}
	}()

	var res processResult
	select {
	case res = <-done:
	case <-tctx.Done():
		res = processResult{err: tctx.Err()}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			res.err = fmt.Errorf("processing timed out after %s", e.opts.TaskTimeout)
		}
	}
	if res.err != nil {
		e.fail(wctx, task, res.err.Error())
		return
	}
	e.complete(wctx, task, res.outputs)
}

func (e *Engine) complete(ctx context.Context, task *db.Task, outputs any) {
	raw, err := sonic.ConfigStd.Marshal(outputs)
	if err != nil {
		e.fail(ctx, task, "Failed to encode outputs: "+err.Error())
		return
	}
	now := e.now()
	ok, err := e.store.Transition(ctx, task.ID, []models.Status{models.StatusProcessing}, models.StatusCompleted, map[string]interface{}{
		"outputs":      datatypes.JSON(raw),
		"completed_at": now,
	})
	if err != nil || !ok {
		e.log.Errorw("failed to mark task completed", "task_id", task.ID, "error", err)
		return
	}
	task.Status = models.StatusCompleted
	task.Outputs = raw
	task.CompletedAt = &now

	e.appendLog(ctx, task.ID, models.LogLevelInfo, "Task completed")
	e.log.Infow("task completed", "task_id", task.ID, "task_type", task.TaskType, "duration", now.Sub(*task.StartedAt))
	e.notify(ctx, events.TaskCompleted, task, "")
}

func (e *Engine) fail(ctx context.Context, task *db.Task, reason string) {
	now := e.now()
	ok, err := e.store.Transition(ctx, task.ID, []models.Status{models.StatusProcessing}, models.StatusFailed, map[string]interface{}{
		"completed_at": now,
	})
	if err != nil || !ok {
		e.log.Errorw("failed to mark task failed", "task_id", task.ID, "reason", reason, "error", err)
		return
	}
	task.Status = models.StatusFailed
	task.CompletedAt = &now

	e.appendLog(ctx, task.ID, models.LogLevelError, reason)
	e.log.Warnw("task failed", "task_id", task.ID, "task_type", task.TaskType, "reason", reason)
	e.notify(ctx, events.TaskFailed, task, reason)
}
