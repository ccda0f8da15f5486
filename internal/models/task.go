package models

// Status is the lifecycle state of a task.
type Status string

const (
	StatusWaitingDependency Status = "waiting_dependency"
	StatusApprovalRequired  Status = "approval_required"
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCanceled          Status = "canceled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusWaitingDependency,
	StatusApprovalRequired,
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCanceled,
}

// TerminalStatuses are the states a task never leaves.
var TerminalStatuses = []Status{StatusCompleted, StatusFailed, StatusCanceled}

// IsTerminal reports whether s is completed, failed or canceled.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// TaskTypeKey identifies a registered task type.
type TaskTypeKey string

const (
	TaskTypeKeywordResearch   TaskTypeKey = "keyword_research"
	TaskTypeContentGeneration TaskTypeKey = "content_generation"
	TaskTypeSEOAudit          TaskTypeKey = "seo_audit"
)

// KnownTaskTypes is the closed set of task type keys the platform ships with.
var KnownTaskTypes = []TaskTypeKey{
	TaskTypeKeywordResearch,
	TaskTypeContentGeneration,
	TaskTypeSEOAudit,
}

// TaskType is an immutable registry entry describing one kind of task.
type TaskType struct {
	Key              TaskTypeKey `json:"key"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	CreditsCost      int64       `json:"credits_cost"`
	RequiresApproval bool        `json:"requires_approval"`
	Category         string      `json:"category,omitempty"`
	Icon             string      `json:"icon,omitempty"`
	InputSchema      string      `json:"input_schema,omitempty"`
}

// InitialStatus returns the state a freshly created task of this type starts in.
func (t TaskType) InitialStatus(hasDependencies bool) Status {
	if hasDependencies {
		return StatusWaitingDependency
	}
	return t.ReadyStatus()
}

// ReadyStatus is the state a task enters once nothing blocks it any more.
func (t TaskType) ReadyStatus() Status {
	if t.RequiresApproval {
		return StatusApprovalRequired
	}
	return StatusPending
}

// LogLevel is the severity of a task log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Credit ledger vocabulary.
type (
	CreditType      string
	TransactionType string
	ReferenceType   string
)

const (
	CreditRegular CreditType = "regular"
	CreditBonus   CreditType = "bonus"

	TxTaskCost TransactionType = "task_cost"
	TxAPIUsage TransactionType = "api_usage"
	TxGrant    TransactionType = "grant"

	RefTask   ReferenceType = "task"
	RefAPILog ReferenceType = "api_log"
	RefManual ReferenceType = "manual"
)
