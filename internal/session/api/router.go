package api

import (
	"github.com/gin-gonic/gin"

	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/permission"
	"github.com/trydex/claude-code-viewer/internal/session/lifecycle"
)

// SetupRoutes configures the session process and permission routes.
func SetupRoutes(router *gin.RouterGroup, svc *lifecycle.Service, gw *permission.Gateway, log *logger.Logger) {
	handler := NewHandler(svc, gw, log)

	procs := router.Group("/session-processes")
	{
		procs.POST("", handler.StartSessionProcess)
		procs.GET("", handler.ListSessionProcesses)
		procs.GET("/:id", handler.GetSessionProcess)
		procs.POST("/:id/continue", handler.ContinueSessionProcess)
		procs.POST("/:id/abort", handler.AbortSessionProcess)
	}

	permissions := router.Group("/permissions")
	{
		permissions.GET("", handler.ListPendingPermissions)
		permissions.POST("/:id/respond", handler.RespondPermission)
	}
}
