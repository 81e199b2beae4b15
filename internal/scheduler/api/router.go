package api

import (
	"github.com/gin-gonic/gin"

	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/scheduler"
)

// SetupRoutes configures the scheduler job routes.
func SetupRoutes(router *gin.RouterGroup, sched *scheduler.Scheduler, log *logger.Logger) {
	handler := NewHandler(sched, log)

	jobs := router.Group("/scheduler/jobs")
	{
		jobs.POST("", handler.CreateJob)
		jobs.GET("", handler.ListJobs)
		jobs.GET("/:id", handler.GetJob)
		jobs.PATCH("/:id", handler.UpdateJob)
		jobs.DELETE("/:id", handler.DeleteJob)
	}
}
