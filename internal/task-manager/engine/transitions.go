package engine

import (
	"context"
	"errors"
	"fmt"

	"ai-task-platform/internal/models"
	"ai-task-platform/internal/task-manager/db"
	"ai-task-platform/internal/task-manager/events"
)

var editableStatuses = []models.Status{
	models.StatusWaitingDependency,
	models.StatusApprovalRequired,
	models.StatusPending,
}

// AddDependency makes taskID wait on dependsOnID. A ready task that gains an
// unfinished dependency goes back to waiting_dependency.
func (e *Engine) AddDependency(ctx context.Context, taskID, dependsOnID uint) error {
	if taskID == dependsOnID {
		return fmt.Errorf("task %d cannot depend on itself: %w", taskID, models.ErrCircularDependency)
	}

	e.depMu.Lock()
	defer e.depMu.Unlock()

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	dep, err := e.store.GetTask(ctx, dependsOnID)
	if errors.Is(err, models.ErrTaskNotFound) {
		return fmt.Errorf("task %d: %w", dependsOnID, models.ErrInvalidDependency)
	}
	if err != nil {
		return err
	}
	if !containsStatus(editableStatuses, task.Status) {
		return fmt.Errorf("task %d is %s: %w", taskID, task.Status, models.ErrInvalidTransition)
	}

	cyclic, err := e.reaches(ctx, dependsOnID, taskID)
	if err != nil {
		return err
	}
	if cyclic {
		return fmt.Errorf("task %d already depends on %d: %w", dependsOnID, taskID, models.ErrCircularDependency)
	}

	if err := e.store.AddDependency(ctx, taskID, dependsOnID); err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}
	e.appendLog(ctx, taskID, models.LogLevelInfo, fmt.Sprintf("Dependency on task %d added", dependsOnID))

	if !dep.Status.IsTerminal() && task.Status != models.StatusWaitingDependency {
		moved, err := e.store.Transition(ctx, taskID, []models.Status{task.Status}, models.StatusWaitingDependency, nil)
		if err != nil {
			return fmt.Errorf("failed to move task back to waiting: %w", err)
		}
		if moved {
			e.appendLog(ctx, taskID, models.LogLevelInfo, "Waiting for dependencies")
		}
	}
	e.log.Infow("dependency added", "task_id", taskID, "depends_on", dependsOnID)
	return nil
}

// reaches reports whether target is reachable from start along dependency edges.
func (e *Engine) reaches(ctx context.Context, start, target uint) (bool, error) {
	visited := map[uint]struct{}{}
	stack := []uint{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true, nil
		}
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		next, err := e.store.DependencyIDs(ctx, id)
		if err != nil {
			return false, fmt.Errorf("failed to walk dependencies of task %d: %w", id, err)
		}
		stack = append(stack, next...)
	}
	return false, nil
}

// CheckDependencies promotes every waiting task whose dependencies are all
// terminal. A failed or canceled dependency counts as satisfied. It returns
// the number of tasks promoted.
func (e *Engine) CheckDependencies(ctx context.Context) (int, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	waiting, err := e.store.ListByStatus(ctx, models.StatusWaitingDependency, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list waiting tasks: %w", err)
	}

	promoted := 0
	for i := range waiting {
		next, moved, err := e.promote(ctx, &waiting[i])
		if err != nil {
			e.log.Errorw("failed to promote task", "task_id", waiting[i].ID, "error", err)
			continue
		}
		if !moved {
			continue
		}
		promoted++
		e.appendLog(ctx, waiting[i].ID, models.LogLevelInfo, fmt.Sprintf("Dependencies satisfied, task is now %s", next))
		e.log.Infow("task promoted", "task_id", waiting[i].ID, "status", next)
	}
	return promoted, nil
}

// promote moves a waiting task to its ready status when every dependency is
// terminal. Edges are re-read under depMu so a dependency added after the
// waiting list was loaded is still honoured.
func (e *Engine) promote(ctx context.Context, task *db.Task) (models.Status, bool, error) {
	e.depMu.Lock()
	defer e.depMu.Unlock()

	deps, err := e.store.DependencyIDs(ctx, task.ID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load dependencies: %w", err)
	}
	statuses, err := e.store.Statuses(ctx, deps)
	if err != nil {
		return "", false, fmt.Errorf("failed to load dependency statuses: %w", err)
	}
	if !allTerminal(deps, statuses) {
		return "", false, nil
	}

	next := models.StatusPending
	if t, ok := e.taskType(task.TaskType); ok {
		next = t.ReadyStatus()
	}
	moved, err := e.store.Transition(ctx, task.ID, []models.Status{models.StatusWaitingDependency}, next, nil)
	if err != nil {
		return "", false, err
	}
	return next, moved, nil
}

func allTerminal(deps []uint, statuses map[uint]models.Status) bool {
	for _, id := range deps {
		status, ok := statuses[id]
		if ok && !status.IsTerminal() {
			return false
		}
	}
	return true
}

// Approve moves an approval_required task to pending and requests a dispatch.
func (e *Engine) Approve(ctx context.Context, taskID uint) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	moved, err := e.store.Transition(ctx, taskID, []models.Status{models.StatusApprovalRequired}, models.StatusPending, nil)
	if err != nil {
		return fmt.Errorf("failed to approve task: %w", err)
	}
	if !moved {
		return fmt.Errorf("task %d is %s: %w", taskID, task.Status, models.ErrInvalidTransition)
	}
	task.Status = models.StatusPending

	e.appendLog(ctx, taskID, models.LogLevelInfo, "Task approved")
	e.log.Infow("task approved", "task_id", taskID, "user_id", task.UserID)
	e.notify(ctx, events.TaskApproved, task, "")
	e.triggerDispatch()
	return nil
}

// Cancel ends a pending or approval_required task. Credits are not refunded.
func (e *Engine) Cancel(ctx context.Context, taskID uint) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	now := e.now()
	moved, err := e.store.Transition(ctx, taskID,
		[]models.Status{models.StatusPending, models.StatusApprovalRequired},
		models.StatusCanceled,
		map[string]interface{}{"completed_at": now},
	)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	if !moved {
		return fmt.Errorf("task %d is %s: %w", taskID, task.Status, models.ErrInvalidTransition)
	}
	task.Status = models.StatusCanceled
	task.CompletedAt = &now

	e.appendLog(ctx, taskID, models.LogLevelInfo, "Task canceled")
	e.log.Infow("task canceled", "task_id", taskID, "user_id", task.UserID)
	e.notify(ctx, events.TaskCanceled, task, "")
	return nil
}

func containsStatus(list []models.Status, s models.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
