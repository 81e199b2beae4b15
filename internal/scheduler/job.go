// Package scheduler runs persisted jobs that start session processes on a
// schedule: one-shot jobs at a reserved time, recurring jobs on a fixed
// interval.
package scheduler

import (
	"time"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

// Schedule types
const (
	ScheduleReserved = "reserved"
	ScheduleInterval = "interval"
)

// Run statuses recorded after a job fires
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Job is a persisted scheduler job.
type Job struct {
	ID   string
	Name string

	// ScheduleType is reserved (fire once at At) or interval (fire every
	// IntervalSeconds).
	ScheduleType    string
	At              *time.Time
	IntervalSeconds int

	// Message is what the job starts when it fires.
	ProjectID string
	CWD       string
	SessionID string
	Prompt    string

	Enabled       bool
	LastRunStatus *string
	LastRunAt     *time.Time
	CreatedAt     time.Time
}

// Validate checks the job definition.
func (j *Job) Validate() error {
	if j.Name == "" {
		return apperrors.InvalidInput("job name is required")
	}
	if j.ProjectID == "" {
		return apperrors.InvalidInput("projectId is required")
	}
	if j.CWD == "" {
		return apperrors.InvalidInput("cwd is required")
	}
	if j.Prompt == "" {
		return apperrors.InvalidInput("prompt is required")
	}
	switch j.ScheduleType {
	case ScheduleReserved:
		if j.At == nil {
			return apperrors.InvalidInput("reserved jobs require an 'at' timestamp")
		}
	case ScheduleInterval:
		if j.IntervalSeconds <= 0 {
			return apperrors.InvalidInput("interval jobs require a positive intervalSeconds")
		}
	default:
		return apperrors.InvalidInput("scheduleType must be 'reserved' or 'interval'")
	}
	return nil
}

// Due reports whether the job should fire at the given time. A disabled job
// is never due. A reserved job fires once: after it has any run status it is
// never due again. An interval job is due when the interval has elapsed
// since its last run (or immediately if it never ran).
func (j *Job) Due(now time.Time) bool {
	if !j.Enabled {
		return false
	}
	switch j.ScheduleType {
	case ScheduleReserved:
		if j.LastRunStatus != nil {
			return false
		}
		return j.At != nil && !now.Before(*j.At)
	case ScheduleInterval:
		if j.LastRunAt == nil {
			return true
		}
		return !now.Before(j.LastRunAt.Add(time.Duration(j.IntervalSeconds) * time.Second))
	}
	return false
}

// Public returns the API projection of the job.
func (j *Job) Public() *v1.SchedulerJob {
	return &v1.SchedulerJob{
		ID:            j.ID,
		Name:          j.Name,
		ScheduleType:  j.ScheduleType,
		At:            j.At,
		IntervalSecs:  j.IntervalSeconds,
		ProjectID:     j.ProjectID,
		CWD:           j.CWD,
		SessionID:     j.SessionID,
		Prompt:        j.Prompt,
		Enabled:       j.Enabled,
		LastRunStatus: j.LastRunStatus,
		LastRunAt:     j.LastRunAt,
		CreatedAt:     j.CreatedAt,
	}
}
