// Package permission implements the gateway that arbitrates tool-use
// permission requests between a running agent turn and a human operator.
// Each request waits for a decision on a one-shot channel, bounded by a
// timeout; a timed-out or cancelled request resolves to a deny so the turn
// always continues deterministically.
package permission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/events"
	"github.com/trydex/claude-code-viewer/internal/events/bus"
)

// Decision is a human's answer to a permission request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Outcome is how a permission request was resolved.
type Outcome string

const (
	OutcomeAllow     Outcome = "allow"
	OutcomeDeny      Outcome = "deny"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Allowed reports whether the outcome permits the tool use. Only an explicit
// allow does; timeout and cancellation are both treated as denial.
func (o Outcome) Allowed() bool {
	return o == OutcomeAllow
}

// Message returns the human-readable denial reason for non-allow outcomes.
func (o Outcome) Message() string {
	switch o {
	case OutcomeDeny:
		return "permission denied by user"
	case OutcomeTimeout:
		return "permission request timed out waiting for a decision"
	case OutcomeCancelled:
		return "permission request cancelled because the turn was aborted"
	}
	return ""
}

// Request describes one pending tool-use permission request.
type Request struct {
	ID               string
	SessionProcessID string
	SessionID        string
	ProjectID        string
	ToolName         string
	ToolInput        map[string]any
	CreatedAt        time.Time
}

type pendingRequest struct {
	req *Request
	ch  chan Outcome
}

// Gateway tracks pending permission requests and resolves them exactly once.
type Gateway struct {
	bus    bus.EventBus
	logger *logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewGateway creates a gateway publishing on the given bus.
func NewGateway(eventBus bus.EventBus, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Default()
	}
	return &Gateway{
		bus:     eventBus,
		logger:  log.WithFields(zap.String("component", "permission_gateway")),
		pending: make(map[string]*pendingRequest),
	}
}

// NewRequest builds a request record with a fresh id and timestamp.
func NewRequest(sessionProcessID, sessionID, projectID, toolName string, toolInput map[string]any) *Request {
	return &Request{
		ID:               uuid.New().String(),
		SessionProcessID: sessionProcessID,
		SessionID:        sessionID,
		ProjectID:        projectID,
		ToolName:         toolName,
		ToolInput:        toolInput,
		CreatedAt:        time.Now().UTC(),
	}
}

// Request registers the request, announces it on the bus, and blocks until a
// decision arrives, the timeout elapses, or the context is cancelled. It
// always returns a definite outcome; the engine turn never hangs on it.
func (g *Gateway) Request(ctx context.Context, req *Request, timeout time.Duration) Outcome {
	ch := make(chan Outcome, 1)

	g.mu.Lock()
	g.pending[req.ID] = &pendingRequest{req: req, ch: ch}
	g.mu.Unlock()

	g.publish(ctx, events.PermissionRequested{
		RequestID:        req.ID,
		SessionProcessID: req.SessionProcessID,
		SessionID:        req.SessionID,
		ProjectID:        req.ProjectID,
		ToolName:         req.ToolName,
	})

	g.logger.Info("permission requested",
		zap.String("request_id", req.ID),
		zap.String("session_process_id", req.SessionProcessID),
		zap.String("tool", req.ToolName),
		zap.Duration("timeout", timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var outcome Outcome
	select {
	case outcome = <-ch:
	case <-timer.C:
		outcome = g.expire(req, ch, OutcomeTimeout)
	case <-ctx.Done():
		outcome = g.expire(req, ch, OutcomeCancelled)
	}

	g.logger.Info("permission resolved",
		zap.String("request_id", req.ID),
		zap.String("outcome", string(outcome)))
	return outcome
}

// Respond resolves a pending request with a human decision. Responding to an
// unknown or already-resolved request is an idempotent no-op: duplicate UI
// submissions are expected, and a second response never changes the first
// outcome.
func (g *Gateway) Respond(requestID string, decision Decision) error {
	if decision != DecisionAllow && decision != DecisionDeny {
		return apperrors.InvalidInput("decision must be 'allow' or 'deny'")
	}

	outcome := OutcomeDeny
	if decision == DecisionAllow {
		outcome = OutcomeAllow
	}

	g.mu.Lock()
	p, ok := g.pending[requestID]
	if ok {
		delete(g.pending, requestID)
	}
	g.mu.Unlock()

	if !ok {
		g.logger.Debug("response for unknown or already-resolved permission request",
			zap.String("request_id", requestID))
		return nil
	}

	p.ch <- outcome
	g.publishResolved(p.req, outcome)
	return nil
}

// CancelProcess resolves every pending request belonging to the given session
// process with a cancelled outcome. Used when a turn is aborted.
func (g *Gateway) CancelProcess(sessionProcessID string) {
	g.mu.Lock()
	var cancelled []*pendingRequest
	for id, p := range g.pending {
		if p.req.SessionProcessID == sessionProcessID {
			delete(g.pending, id)
			cancelled = append(cancelled, p)
		}
	}
	g.mu.Unlock()

	for _, p := range cancelled {
		p.ch <- OutcomeCancelled
		g.publishResolved(p.req, OutcomeCancelled)
	}
}

// Pending returns copies of all currently pending requests.
func (g *Gateway) Pending() []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Request, 0, len(g.pending))
	for _, p := range g.pending {
		cp := *p.req
		out = append(out, &cp)
	}
	return out
}

// expire resolves the request with the fallback outcome unless a concurrent
// Respond or CancelProcess won the race, in which case their outcome (already
// sent, or about to be sent, on the buffered channel) takes precedence.
func (g *Gateway) expire(req *Request, ch chan Outcome, fallback Outcome) Outcome {
	g.mu.Lock()
	_, stillPending := g.pending[req.ID]
	if stillPending {
		delete(g.pending, req.ID)
	}
	g.mu.Unlock()

	if !stillPending {
		// The resolver removed the request before we did; its send on the
		// buffered channel is guaranteed, so block for it.
		return <-ch
	}

	g.publishResolved(req, fallback)
	return fallback
}

func (g *Gateway) publishResolved(req *Request, outcome Outcome) {
	g.publish(context.Background(), events.PermissionResolved{
		RequestID:        req.ID,
		SessionProcessID: req.SessionProcessID,
		Outcome:          string(outcome),
	})
}

func (g *Gateway) publish(ctx context.Context, payload events.Payload) {
	if g.bus == nil {
		return
	}
	if err := g.bus.Publish(ctx, events.NewEnvelope(payload)); err != nil {
		g.logger.Warn("failed to publish permission event", zap.Error(err))
	}
}
