package db

import (
	"time"

	"gorm.io/datatypes"

	"ai-task-platform/internal/models"
)

// Task is one unit of user-requested AI/SEO work.
type Task struct {
	ID           uint             `json:"id" gorm:"primaryKey"`
	UserID       uint             `json:"user_id" gorm:"index"`
	TaskType     string           `json:"task_type" gorm:"size:64;index"`
	Status       models.Status    `json:"status" gorm:"size:32;index:idx_tasks_dispatch,priority:1"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Inputs       datatypes.JSON   `json:"inputs"`
	Outputs      datatypes.JSON   `json:"outputs,omitempty"`
	CreditsCost  int64            `json:"credits_cost"`
	Priority     int              `json:"priority" gorm:"index:idx_tasks_dispatch,priority:2"`
	Dependencies []TaskDependency `json:"dependencies,omitempty" gorm:"foreignKey:TaskID"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// DependencyIDs returns the ids of the tasks t waits on.
func (t *Task) DependencyIDs() []uint {
	ids := make([]uint, 0, len(t.Dependencies))
	for _, d := range t.Dependencies {
		ids = append(ids, d.DependsOnID)
	}
	return ids
}

// TaskDependency is a precedence edge: TaskID waits on DependsOnID.
type TaskDependency struct {
	ID          uint `json:"-" gorm:"primaryKey"`
	TaskID      uint `json:"task_id" gorm:"uniqueIndex:idx_task_dependency"`
	DependsOnID uint `json:"depends_on_id" gorm:"uniqueIndex:idx_task_dependency;index"`
}

// TaskLog is an append-only message attached to a task.
type TaskLog struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	TaskID    uint            `json:"task_id" gorm:"index"`
	Message   string          `json:"message"`
	Level     models.LogLevel `json:"level" gorm:"size:16"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreditEntry is one signed row of the credit ledger.
type CreditEntry struct {
	ID              uint                   `json:"id" gorm:"primaryKey"`
	UserID          uint                   `json:"user_id" gorm:"index"`
	Amount          int64                  `json:"amount"`
	CreditType      models.CreditType      `json:"credit_type" gorm:"size:16"`
	TransactionType models.TransactionType `json:"transaction_type" gorm:"size:32"`
	ReferenceType   models.ReferenceType   `json:"reference_type" gorm:"size:16"`
	ReferenceID     uint                   `json:"reference_id"`
	CreatedAt       time.Time              `json:"created_at"`
}

// APILog records one live external API call with secrets redacted.
type APILog struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	RequestID    string    `json:"request_id" gorm:"size:36;index"`
	UserID       uint      `json:"user_id" gorm:"index"`
	Service      string    `json:"service" gorm:"size:64;index"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method" gorm:"size:8"`
	Request      string    `json:"request"`
	Response     string    `json:"response"`
	Status       string    `json:"status" gorm:"size:16"`
	HTTPStatus   int       `json:"http_status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CreditsUsed  int64     `json:"credits_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// AllModels lists every table the platform migrates.
func AllModels() []interface{} {
	return []interface{}{&Task{}, &TaskDependency{}, &TaskLog{}, &CreditEntry{}, &APILog{}}
}
