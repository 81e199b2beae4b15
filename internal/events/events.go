// Package events defines the internal event model shared across the backend.
// Events are published on the event bus and consumed by the WebSocket gateway,
// the notification bridge, and anything else that needs to react to state
// changes. Payloads carry identifiers only; subscribers re-query the owning
// component for current state.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event type on the bus.
type Kind string

const (
	KindSessionProcessChanged     Kind = "session_process.changed"
	KindSessionChanged            Kind = "session.changed"
	KindPermissionRequested       Kind = "permission.requested"
	KindPermissionResolved        Kind = "permission.resolved"
	KindProjectSessionListChanged Kind = "project.session_list.changed"
	KindSchedulerJobFinished      Kind = "scheduler.job.finished"
)

// Payload is implemented by every event payload struct.
type Payload interface {
	Kind() Kind
}

// Envelope wraps a payload with delivery metadata. Envelopes are what travel
// on the bus.
type Envelope struct {
	ID        string    `json:"id"`
	EventKind Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// NewEnvelope builds an envelope for the given payload with a fresh id and
// the current time.
func NewEnvelope(payload Payload) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		EventKind: payload.Kind(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// SessionProcessChanged signals that a session process transitioned state.
type SessionProcessChanged struct {
	SessionProcessID string `json:"sessionProcessId"`
	ProjectID        string `json:"projectId"`
	SessionID        string `json:"sessionId,omitempty"`
	State            string `json:"state"`
}

func (SessionProcessChanged) Kind() Kind { return KindSessionProcessChanged }

// SessionChanged signals that a session's conversation content changed.
type SessionChanged struct {
	ProjectID string `json:"projectId"`
	SessionID string `json:"sessionId"`
}

func (SessionChanged) Kind() Kind { return KindSessionChanged }

// PermissionRequested signals that a tool-use permission request is pending
// a decision.
type PermissionRequested struct {
	RequestID        string `json:"requestId"`
	SessionProcessID string `json:"sessionProcessId"`
	SessionID        string `json:"sessionId,omitempty"`
	ProjectID        string `json:"projectId"`
	ToolName         string `json:"toolName"`
}

func (PermissionRequested) Kind() Kind { return KindPermissionRequested }

// PermissionResolved signals that a pending permission request was resolved,
// whatever the outcome (decision, timeout, or cancellation).
type PermissionResolved struct {
	RequestID        string `json:"requestId"`
	SessionProcessID string `json:"sessionProcessId"`
	Outcome          string `json:"outcome"`
}

func (PermissionResolved) Kind() Kind { return KindPermissionResolved }

// ProjectSessionListChanged signals that the set of sessions under a project
// changed, typically because a new session id was claimed.
type ProjectSessionListChanged struct {
	ProjectID string `json:"projectId"`
}

func (ProjectSessionListChanged) Kind() Kind { return KindProjectSessionListChanged }

// SchedulerJobFinished signals that a scheduler job run completed.
type SchedulerJobFinished struct {
	JobID            string `json:"jobId"`
	SessionProcessID string `json:"sessionProcessId,omitempty"`
	Status           string `json:"status"`
}

func (SchedulerJobFinished) Kind() Kind { return KindSchedulerJobFinished }

// Kinds returns every event kind defined by the model. Used by subscribers
// that fan in all events, such as the WebSocket broadcaster.
func Kinds() []Kind {
	return []Kind{
		KindSessionProcessChanged,
		KindSessionChanged,
		KindPermissionRequested,
		KindPermissionResolved,
		KindProjectSessionListChanged,
		KindSchedulerJobFinished,
	}
}
