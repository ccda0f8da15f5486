package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/models"
	taskDB "ai-task-platform/internal/task-manager/db"
	"ai-task-platform/internal/task-manager/engine"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// TaskEngine is the part of the engine the HTTP surface drives.
type TaskEngine interface {
	CreateTask(ctx context.Context, req engine.CreateTaskRequest) (*taskDB.Task, error)
	GetTask(ctx context.Context, id uint) (*taskDB.Task, error)
	ListTasks(ctx context.Context, f taskDB.TaskFilter) ([]taskDB.Task, error)
	TaskLogs(ctx context.Context, taskID uint) ([]taskDB.TaskLog, error)
	Approve(ctx context.Context, taskID uint) error
	Cancel(ctx context.Context, taskID uint) error
	AddDependency(ctx context.Context, taskID, dependsOnID uint) error
	Stats(ctx context.Context, userID uint) (map[models.Status]int64, error)
	TaskTypes() []models.TaskType
}

type TaskHandler struct {
	Engine TaskEngine
	log    *logger.Logger
}

func NewTaskHandler(e TaskEngine, log *logger.Logger) *TaskHandler {
	return &TaskHandler{Engine: e, log: log.Named("api")}
}

type CreateTaskRequest struct {
	UserID       uint            `json:"user_id" vd:"$>0"`
	TaskType     string          `json:"task_type"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Inputs       json.RawMessage `json:"inputs"`
	Priority     int             `json:"priority"`
	Dependencies []uint          `json:"dependencies"`
}

type AddDependencyRequest struct {
	DependsOnID uint `json:"depends_on_id" vd:"$>0"`
}

func (h *TaskHandler) CreateTask(ctx context.Context, c *app.RequestContext) {
	var req CreateTaskRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error(), "code": "invalid_request"})
		return
	}

	task, err := h.Engine.CreateTask(ctx, engine.CreateTaskRequest{
		UserID:       req.UserID,
		Type:         models.TaskTypeKey(req.TaskType),
		Title:        req.Title,
		Description:  req.Description,
		Inputs:       req.Inputs,
		Priority:     req.Priority,
		Dependencies: req.Dependencies,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTasks(ctx context.Context, c *app.RequestContext) {
	filter := taskDB.TaskFilter{
		Status: models.Status(c.Query("status")),
		Type:   c.Query("task_type"),
		Limit:  defaultListLimit,
	}
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid user_id", "code": "invalid_request"})
			return
		}
		filter.UserID = uint(id)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid limit", "code": "invalid_request"})
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid offset", "code": "invalid_request"})
			return
		}
		filter.Offset = offset
	}

	tasks, err := h.Engine.ListTasks(ctx, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) GetTaskByID(ctx context.Context, c *app.RequestContext) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	task, err := h.Engine.GetTask(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) GetTaskLogs(ctx context.Context, c *app.RequestContext) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	logs, err := h.Engine.TaskLogs(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *TaskHandler) ApproveTask(ctx context.Context, c *app.RequestContext) {
	h.transition(ctx, c, h.Engine.Approve)
}

func (h *TaskHandler) CancelTask(ctx context.Context, c *app.RequestContext) {
	h.transition(ctx, c, h.Engine.Cancel)
}

func (h *TaskHandler) transition(ctx context.Context, c *app.RequestContext, op func(context.Context, uint) error) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := op(ctx, id); err != nil {
		h.writeError(c, err)
		return
	}
	task, err := h.Engine.GetTask(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) AddDependency(ctx context.Context, c *app.RequestContext) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req AddDependencyRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error(), "code": "invalid_request"})
		return
	}
	if err := h.Engine.AddDependency(ctx, id, req.DependsOnID); err != nil {
		h.writeError(c, err)
		return
	}
	task, err := h.Engine.GetTask(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) GetTaskTypes(_ context.Context, c *app.RequestContext) {
	c.JSON(http.StatusOK, h.Engine.TaskTypes())
}

// GetStats returns task counts per status, optionally for one user.
func (h *TaskHandler) GetStats(ctx context.Context, c *app.RequestContext) {
	var userID uint
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid user_id", "code": "invalid_request"})
			return
		}
		userID = uint(id)
	}
	stats, err := h.Engine.Stats(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *TaskHandler) writeError(c *app.RequestContext, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", string(c.Path()), "error", err)
	}
	c.JSON(status, utils.H{"error": err.Error(), "code": models.ErrorCode(err)})
}

func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathID(c *app.RequestContext, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid " + name + " format", "code": "invalid_request"})
		return 0, false
	}
	return uint(id), true
}
