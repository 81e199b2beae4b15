// Package api exposes scheduler jobs over HTTP.
package api

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/scheduler"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

// Handler serves the scheduler job endpoints.
type Handler struct {
	sched  *scheduler.Scheduler
	logger *logger.Logger
}

// NewHandler creates the handler.
func NewHandler(sched *scheduler.Scheduler, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		sched:  sched,
		logger: log.WithFields(zap.String("component", "scheduler_api")),
	}
}

// CreateJobRequest creates a scheduler job.
type CreateJobRequest struct {
	Name            string     `json:"name" binding:"required"`
	ScheduleType    string     `json:"scheduleType" binding:"required"`
	At              *time.Time `json:"at"`
	IntervalSeconds int        `json:"intervalSeconds"`
	ProjectID       string     `json:"projectId" binding:"required"`
	CWD             string     `json:"cwd" binding:"required"`
	SessionID       string     `json:"sessionId"`
	Prompt          string     `json:"prompt" binding:"required"`
	Enabled         *bool      `json:"enabled"`
}

// UpdateJobRequest patches a scheduler job.
type UpdateJobRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) writeError(c *gin.Context, err error) {
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
		}
	}
	if status == v1.ResultInternalError {
		h.logger.Error("request failed", zap.Error(err))
	}
	c.JSON(apperrors.GetHTTPStatus(err), v1.CommandResult{Status: status, Message: message})
}

// CreateJob handles POST /scheduler/jobs.
func (h *Handler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, v1.CommandResult{
			Status:  v1.ResultInvalidInput,
			Message: err.Error(),
		})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	job, err := h.sched.CreateJob(c.Request.Context(), &scheduler.Job{
		Name:            req.Name,
		ScheduleType:    req.ScheduleType,
		At:              req.At,
		IntervalSeconds: req.IntervalSeconds,
		ProjectID:       req.ProjectID,
		CWD:             req.CWD,
		SessionID:       req.SessionID,
		Prompt:          req.Prompt,
		Enabled:         enabled,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": v1.ResultAccepted, "job": job})
}

// ListJobs handles GET /scheduler/jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	jobs, err := h.sched.ListJobs(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob handles GET /scheduler/jobs/:id.
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.sched.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// UpdateJob handles PATCH /scheduler/jobs/:id.
func (h *Handler) UpdateJob(c *gin.Context) {
	var req UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, v1.CommandResult{
			Status:  v1.ResultInvalidInput,
			Message: err.Error(),
		})
		return
	}

	job, err := h.sched.SetJobEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": v1.ResultAccepted, "job": job})
}

// DeleteJob handles DELETE /scheduler/jobs/:id.
func (h *Handler) DeleteJob(c *gin.Context) {
	if err := h.sched.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v1.CommandResult{Status: v1.ResultAccepted})
}
