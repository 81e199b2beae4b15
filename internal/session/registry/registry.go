// Package registry holds the in-memory index of session processes. The
// registry is pure storage: state transitions are owned by the lifecycle
// service, which writes records here for everyone else to read.
package registry

import (
	"sync"
	"time"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

// SessionProcess is the registry's record of one agent engine invocation.
type SessionProcess struct {
	ID               string
	ProjectID        string
	CWD              string
	SessionID        string
	State            v1.SessionProcessState
	Err              string
	CreatedAt        time.Time
	LastTransitionAt time.Time
}

// IsTerminal reports whether the process has reached a terminal state.
func (p *SessionProcess) IsTerminal() bool {
	return p.State.IsTerminal()
}

// Public returns the API projection of the record.
func (p *SessionProcess) Public() *v1.SessionProcess {
	return &v1.SessionProcess{
		ID:               p.ID,
		ProjectID:        p.ProjectID,
		CWD:              p.CWD,
		SessionID:        p.SessionID,
		State:            p.State,
		Error:            p.Err,
		CreatedAt:        p.CreatedAt,
		LastTransitionAt: p.LastTransitionAt,
	}
}

// Registry is a concurrency-safe map of session process records. It stores
// copies; callers never share memory with the registry.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]*SessionProcess
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{processes: make(map[string]*SessionProcess)}
}

// Upsert stores a copy of the record, replacing any existing record with the
// same id.
func (r *Registry) Upsert(proc *SessionProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *proc
	r.processes[proc.ID] = &cp
}

// Get returns a copy of the record, or a NotFound error.
func (r *Registry) Get(id string) (*SessionProcess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	proc, ok := r.processes[id]
	if !ok {
		return nil, apperrors.NotFound("session process", id)
	}
	cp := *proc
	return &cp, nil
}

// List returns copies of all records, no ordering guaranteed.
func (r *Registry) List() []*SessionProcess {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SessionProcess, 0, len(r.processes))
	for _, proc := range r.processes {
		cp := *proc
		out = append(out, &cp)
	}
	return out
}

// ListByProject returns copies of all records belonging to the project.
func (r *Registry) ListByProject(projectID string) []*SessionProcess {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SessionProcess
	for _, proc := range r.processes {
		if proc.ProjectID == projectID {
			cp := *proc
			out = append(out, &cp)
		}
	}
	return out
}

// ActiveBySession returns the live process that has claimed the given session
// id, or nil if there is none. At most one such process can exist; paused and
// terminal processes do not hold the claim.
func (r *Registry) ActiveBySession(sessionID string) *SessionProcess {
	if sessionID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, proc := range r.processes {
		if proc.SessionID == sessionID && proc.State.IsLive() {
			cp := *proc
			return &cp
		}
	}
	return nil
}

// Remove deletes the record if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processes, id)
}

// PruneTerminal removes terminal records whose last transition is older than
// the cutoff and returns how many were removed.
func (r *Registry) PruneTerminal(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, proc := range r.processes {
		if proc.IsTerminal() && proc.LastTransitionAt.Before(cutoff) {
			delete(r.processes, id)
			removed++
		}
	}
	return removed
}
