package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ai-task-platform/internal/models"
)

// TaskStore persists tasks, dependency edges and task logs.
type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// TaskFilter narrows ListTasks. Zero values mean "any".
type TaskFilter struct {
	UserID uint
	Status models.Status
	Type   string
	Limit  int
	Offset int
}

// CreateTask inserts the task and its dependency edges in one transaction.
func (s *TaskStore) CreateTask(ctx context.Context, task *Task, dependsOn []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task.Dependencies = nil
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if len(dependsOn) == 0 {
			return nil
		}
		edges := make([]TaskDependency, 0, len(dependsOn))
		for _, dep := range dependsOn {
			edges = append(edges, TaskDependency{TaskID: task.ID, DependsOnID: dep})
		}
		if err := tx.Create(&edges).Error; err != nil {
			return fmt.Errorf("insert dependencies: %w", err)
		}
		task.Dependencies = edges
		return nil
	})
}

// GetTask loads a task with its dependency edges.
func (s *TaskStore) GetTask(ctx context.Context, id uint) (*Task, error) {
	var task Task
	err := s.db.WithContext(ctx).Preload("Dependencies").First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("task %d: %w", id, models.ErrTaskNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns tasks matching f, newest first.
func (s *TaskStore) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	query := s.db.WithContext(ctx).Model(&Task{}).Preload("Dependencies")
	if f.UserID != 0 {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		query = query.Where("task_type = ?", f.Type)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}
	var tasks []Task
	if err := query.Order("id desc").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListByStatus returns up to limit tasks in status, ordered priority DESC, id ASC.
// A non-positive limit returns every matching task.
func (s *TaskStore) ListByStatus(ctx context.Context, status models.Status, limit int) ([]Task, error) {
	query := s.db.WithContext(ctx).
		Preload("Dependencies").
		Where("status = ?", status).
		Order("priority desc").
		Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var tasks []Task
	if err := query.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// MissingIDs returns the ids among ids that do not reference a stored task.
func (s *TaskStore) MissingIDs(ctx context.Context, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uint
	if err := s.db.WithContext(ctx).Model(&Task{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	present := make(map[uint]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	var missing []uint
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Statuses maps each of ids to its current status.
func (s *TaskStore) Statuses(ctx context.Context, ids []uint) (map[uint]models.Status, error) {
	out := make(map[uint]models.Status, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID     uint
		Status models.Status
	}
	if err := s.db.WithContext(ctx).Model(&Task{}).Select("id", "status").Where("id IN ?", ids).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.Status
	}
	return out, nil
}

// DependencyIDs returns the ids taskID directly depends on.
func (s *TaskStore) DependencyIDs(ctx context.Context, taskID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&TaskDependency{}).
		Where("task_id = ?", taskID).
		Order("depends_on_id asc").
		Pluck("depends_on_id", &ids).Error
	return ids, err
}

// AddDependency inserts one edge. Adding an existing edge is a no-op.
func (s *TaskStore) AddDependency(ctx context.Context, taskID, dependsOnID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&TaskDependency{}).
		Where("task_id = ? AND depends_on_id = ?", taskID, dependsOnID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&TaskDependency{TaskID: taskID, DependsOnID: dependsOnID}).Error
}

// Transition moves task id to status `to` only if it is currently in one of
// `from`. It reports whether the row changed; extra columns are written in the
// same statement.
func (s *TaskStore) Transition(ctx context.Context, id uint, from []models.Status, to models.Status, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountByStatus returns per-status task counts, optionally for one user.
func (s *TaskStore) CountByStatus(ctx context.Context, userID uint) (map[models.Status]int64, error) {
	query := s.db.WithContext(ctx).Model(&Task{}).Select("status, count(*) as total").Group("status")
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	var rows []struct {
		Status models.Status
		Total  int64
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[models.Status]int64, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		out[s] = 0
	}
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}

// AppendLog writes one task log entry.
func (s *TaskStore) AppendLog(ctx context.Context, taskID uint, message string, level models.LogLevel) error {
	return s.db.WithContext(ctx).Create(&TaskLog{TaskID: taskID, Message: message, Level: level}).Error
}

// TaskLogs returns the log of taskID in creation order.
func (s *TaskStore) TaskLogs(ctx context.Context, taskID uint) ([]TaskLog, error) {
	var logs []TaskLog
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id asc").Find(&logs).Error
	return logs, err
}
