// Package v1 defines the public API types shared between the backend and its
// clients. These shapes are the wire contract; internal state never crosses
// the boundary directly.
package v1

import "time"

// SessionProcessState is the externally visible state of a session process.
type SessionProcessState string

const (
	StateStarting          SessionProcessState = "starting"
	StateRunning           SessionProcessState = "running"
	StateWaitingPermission SessionProcessState = "waitingPermission"
	StatePaused            SessionProcessState = "paused"
	StateCompleted         SessionProcessState = "completed"
	StateAborted           SessionProcessState = "aborted"
	StateFailed            SessionProcessState = "failed"
)

// IsTerminal reports whether the state is one a session process never leaves.
func (s SessionProcessState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateAborted, StateFailed:
		return true
	}
	return false
}

// IsLive reports whether the process has an engine turn in flight. A paused
// process is neither live nor terminal: its turn ended but it can be
// continued.
func (s SessionProcessState) IsLive() bool {
	switch s {
	case StateStarting, StateRunning, StateWaitingPermission:
		return true
	}
	return false
}

// SessionProcess is the public projection of a session process record.
type SessionProcess struct {
	ID               string              `json:"id"`
	ProjectID        string              `json:"projectId"`
	CWD              string              `json:"cwd"`
	SessionID        string              `json:"sessionId,omitempty"`
	State            SessionProcessState `json:"state"`
	Error            string              `json:"error,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	LastTransitionAt time.Time           `json:"lastTransitionAt"`
}

// PermissionRequest is the public projection of a pending tool-use
// permission request.
type PermissionRequest struct {
	ID               string         `json:"id"`
	SessionProcessID string         `json:"sessionProcessId"`
	SessionID        string         `json:"sessionId,omitempty"`
	ProjectID        string         `json:"projectId"`
	ToolName         string         `json:"toolName"`
	ToolInput        map[string]any `json:"toolInput,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// Result statuses for command endpoints. Commands never leak raw errors;
// every outcome is classified into one of these.
const (
	ResultAccepted      = "accepted"
	ResultNotFound      = "notFound"
	ResultConflict      = "conflict"
	ResultInvalidInput  = "invalidInput"
	ResultInternalError = "internalError"
)

// CommandResult is the classified envelope returned by command endpoints.
type CommandResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SchedulerJob is the public projection of a scheduler job.
type SchedulerJob struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ScheduleType  string     `json:"scheduleType"` // reserved, interval
	At            *time.Time `json:"at,omitempty"`
	IntervalSecs  int        `json:"intervalSeconds,omitempty"`
	ProjectID     string     `json:"projectId"`
	CWD           string     `json:"cwd"`
	SessionID     string     `json:"sessionId,omitempty"`
	Prompt        string     `json:"prompt"`
	Enabled       bool       `json:"enabled"`
	LastRunStatus *string    `json:"lastRunStatus,omitempty"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}
