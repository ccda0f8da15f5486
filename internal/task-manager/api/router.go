package api

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
)

type Handlers struct {
	Tasks   *TaskHandler
	Credits *CreditHandler
	// Admin is optional; its routes are skipped when nil.
	Admin *AdminHandler
}

// Register mounts every route on h.
func Register(h *server.Hertz, hs Handlers) {
	h.GET("/ping", func(_ context.Context, c *app.RequestContext) {
		c.JSON(http.StatusOK, utils.H{"message": "pong"})
	})

	h.GET("/task-types", hs.Tasks.GetTaskTypes)
	h.GET("/stats", hs.Tasks.GetStats)

	taskGroup := h.Group("/tasks")
	{
		taskGroup.POST("", hs.Tasks.CreateTask)
		taskGroup.GET("", hs.Tasks.GetTasks)
		taskGroup.GET("/:id", hs.Tasks.GetTaskByID)
		taskGroup.GET("/:id/logs", hs.Tasks.GetTaskLogs)
		taskGroup.POST("/:id/approve", hs.Tasks.ApproveTask)
		taskGroup.POST("/:id/cancel", hs.Tasks.CancelTask)
		taskGroup.POST("/:id/dependencies", hs.Tasks.AddDependency)
	}

	userGroup := h.Group("/users")
	{
		userGroup.GET("/:id/credits", hs.Credits.GetCredits)
		userGroup.POST("/:id/credits", hs.Credits.GrantCredits)
	}

	if hs.Admin == nil {
		return
	}
	adminGroup := h.Group("/admin")
	{
		adminGroup.DELETE("/cache", hs.Admin.ClearCache)
		adminGroup.POST("/scheduler/dispatch", hs.Admin.TriggerDispatch)
		adminGroup.POST("/scheduler/dependencies", hs.Admin.TriggerDependencyCheck)
		adminGroup.GET("/api-logs", hs.Admin.GetAPILogs)
	}
}
