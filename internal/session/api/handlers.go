// Package api exposes session processes and permissions over HTTP. Command
// endpoints return a classified result envelope; raw internal errors never
// reach a client.
package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/permission"
	"github.com/trydex/claude-code-viewer/internal/session/lifecycle"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

// Handler serves the session process and permission endpoints.
type Handler struct {
	svc     *lifecycle.Service
	gateway *permission.Gateway
	logger  *logger.Logger
}

// NewHandler creates the handler.
func NewHandler(svc *lifecycle.Service, gw *permission.Gateway, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		svc:     svc,
		gateway: gw,
		logger:  log.WithFields(zap.String("component", "session_api")),
	}
}

// classify maps an error to the public result envelope. Unknown errors stay
// opaque; AppError messages are safe to show.
func classify(err error) (int, v1.CommandResult) {
	status := v1.ResultInternalError
	message := "an internal error occurred"

	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = v1.ResultNotFound
			message = appErr.Message
		case apperrors.ErrCodeConflict:
			status = v1.ResultConflict
			message = appErr.Message
		case apperrors.ErrCodeInvalidInput:
			status = v1.ResultInvalidInput
			message = appErr.Message
		case apperrors.ErrCodeUpstreamUnavailable, apperrors.ErrCodeTimeout:
			// Surfaces as internalError with the upstream status code,
			// but the message is still safe to show.
			message = appErr.Message
		}
	}

	return apperrors.GetHTTPStatus(err), v1.CommandResult{Status: status, Message: message}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	code, result := classify(err)
	if result.Status == v1.ResultInternalError {
		h.logger.Error("request failed", zap.Error(err))
	}
	c.JSON(code, result)
}

// StartSessionProcess handles POST /session-processes.
func (h *Handler) StartSessionProcess(c *gin.Context) {
	var req StartSessionProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, v1.CommandResult{
			Status:  v1.ResultInvalidInput,
			Message: err.Error(),
		})
		return
	}

	proc, err := h.svc.Start(c.Request.Context(), lifecycle.StartRequest{
		ProjectID:      req.ProjectID,
		CWD:            req.CWD,
		Input:          req.Input,
		BaseSessionID:  req.BaseSessionID,
		PermissionMode: req.PermissionMode,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":         v1.ResultAccepted,
		"sessionProcess": proc,
	})
}

// ContinueSessionProcess handles POST /session-processes/:id/continue.
func (h *Handler) ContinueSessionProcess(c *gin.Context) {
	var req ContinueSessionProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, v1.CommandResult{
			Status:  v1.ResultInvalidInput,
			Message: err.Error(),
		})
		return
	}

	proc, err := h.svc.Continue(c.Request.Context(), c.Param("id"), req.Input, req.PermissionMode)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":         v1.ResultAccepted,
		"sessionProcess": proc,
	})
}

// AbortSessionProcess handles POST /session-processes/:id/abort.
func (h *Handler) AbortSessionProcess(c *gin.Context) {
	if err := h.svc.Abort(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v1.CommandResult{Status: v1.ResultAccepted})
}

// GetSessionProcess handles GET /session-processes/:id.
func (h *Handler) GetSessionProcess(c *gin.Context) {
	proc, err := h.svc.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionProcess": proc})
}

// ListSessionProcesses handles GET /session-processes.
func (h *Handler) ListSessionProcesses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessionProcesses": h.svc.List()})
}

// ListPendingPermissions handles GET /permissions.
func (h *Handler) ListPendingPermissions(c *gin.Context) {
	pending := h.gateway.Pending()
	out := make([]*v1.PermissionRequest, 0, len(pending))
	for _, req := range pending {
		out = append(out, &v1.PermissionRequest{
			ID:               req.ID,
			SessionProcessID: req.SessionProcessID,
			SessionID:        req.SessionID,
			ProjectID:        req.ProjectID,
			ToolName:         req.ToolName,
			ToolInput:        req.ToolInput,
			CreatedAt:        req.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"permissions": out})
}

// RespondPermission handles POST /permissions/:id/respond.
func (h *Handler) RespondPermission(c *gin.Context) {
	var req RespondPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, v1.CommandResult{
			Status:  v1.ResultInvalidInput,
			Message: err.Error(),
		})
		return
	}

	if err := h.gateway.Respond(c.Param("id"), permission.Decision(req.Decision)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v1.CommandResult{Status: v1.ResultAccepted})
}
