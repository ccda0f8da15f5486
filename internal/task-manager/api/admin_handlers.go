package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"ai-task-platform/internal/logger"
	taskDB "ai-task-platform/internal/task-manager/db"
)

type CacheClearer interface {
	ClearService(ctx context.Context, service string) (int, error)
	ClearEndpoint(ctx context.Context, service, endpoint string) (int, error)
	ClearAll(ctx context.Context) (int, error)
}

type PassTrigger interface {
	TriggerDispatch()
	TriggerDependencyCheck()
}

type APILogReader interface {
	RecentAPILogs(ctx context.Context, userID uint, limit int) ([]taskDB.APILog, error)
}

// AdminHandler exposes operator actions: cache invalidation, immediate
// scheduler passes and the API call log.
type AdminHandler struct {
	Cache     CacheClearer
	Scheduler PassTrigger
	APILogs   APILogReader
	log       *logger.Logger
}

func NewAdminHandler(cache CacheClearer, scheduler PassTrigger, apiLogs APILogReader, log *logger.Logger) *AdminHandler {
	return &AdminHandler{Cache: cache, Scheduler: scheduler, APILogs: apiLogs, log: log.Named("api")}
}

func (h *AdminHandler) ClearCache(ctx context.Context, c *app.RequestContext) {
	service := c.Query("service")
	endpoint := c.Query("endpoint")

	var (
		cleared int
		err     error
	)
	switch {
	case endpoint != "" && service == "":
		c.JSON(http.StatusBadRequest, utils.H{"error": "endpoint requires service", "code": "invalid_request"})
		return
	case endpoint != "":
		cleared, err = h.Cache.ClearEndpoint(ctx, service, endpoint)
	case service != "":
		cleared, err = h.Cache.ClearService(ctx, service)
	default:
		cleared, err = h.Cache.ClearAll(ctx)
	}
	if err != nil {
		h.log.Errorw("cache clear failed", "service", service, "endpoint", endpoint, "error", err)
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error(), "code": "internal_error"})
		return
	}
	h.log.Infow("api cache cleared", "service", service, "endpoint", endpoint, "cleared", cleared)
	c.JSON(http.StatusOK, utils.H{"cleared": cleared})
}

func (h *AdminHandler) TriggerDispatch(_ context.Context, c *app.RequestContext) {
	h.Scheduler.TriggerDispatch()
	c.JSON(http.StatusAccepted, utils.H{"message": "Dispatch pass triggered"})
}

func (h *AdminHandler) TriggerDependencyCheck(_ context.Context, c *app.RequestContext) {
	h.Scheduler.TriggerDependencyCheck()
	c.JSON(http.StatusAccepted, utils.H{"message": "Dependency pass triggered"})
}

func (h *AdminHandler) GetAPILogs(ctx context.Context, c *app.RequestContext) {
	var userID uint
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid user_id", "code": "invalid_request"})
			return
		}
		userID = uint(id)
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid limit", "code": "invalid_request"})
			return
		}
		limit = min(n, maxListLimit)
	}

	logs, err := h.APILogs.RecentAPILogs(ctx, userID, limit)
	if err != nil {
		h.log.Errorw("api log query failed", "error", err)
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error(), "code": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, logs)
}
