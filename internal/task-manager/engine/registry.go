package engine

import (
	"fmt"
	"sort"

	"ai-task-platform/internal/models"
)

// RegisterTaskType adds an immutable task type. Keys may be registered once.
func (e *Engine) RegisterTaskType(t models.TaskType) error {
	if t.Key == "" {
		return fmt.Errorf("empty key: %w", models.ErrInvalidTaskType)
	}
	if t.CreditsCost < 0 {
		return fmt.Errorf("task type %s has negative cost", t.Key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.types[t.Key]; exists {
		return fmt.Errorf("task type %s: %w", t.Key, models.ErrTaskTypeExists)
	}
	e.types[t.Key] = t
	e.log.Infow("task type registered", "task_type", t.Key, "credits_cost", t.CreditsCost, "requires_approval", t.RequiresApproval)
	return nil
}

// RegisterTaskProcessor binds p to a registered task type, replacing any earlier binding.
func (e *Engine) RegisterTaskProcessor(key models.TaskTypeKey, p Processor) error {
	if p == nil {
		return fmt.Errorf("task type %s: %w", key, models.ErrInvalidProcessor)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.types[key]; !ok {
		return fmt.Errorf("task type %s: %w", key, models.ErrInvalidTaskType)
	}
	e.processors[key] = p
	e.log.Infow("task processor registered", "task_type", key, "processor", fmt.Sprintf("%T", p))
	return nil
}

// TaskTypes lists the registered types sorted by key.
func (e *Engine) TaskTypes() []models.TaskType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.TaskType, 0, len(e.types))
	for _, t := range e.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (e *Engine) taskType(key string) (models.TaskType, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.types[models.TaskTypeKey(key)]
	return t, ok
}

func (e *Engine) processor(key string) (Processor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.processors[models.TaskTypeKey(key)]
	return p, ok
}
