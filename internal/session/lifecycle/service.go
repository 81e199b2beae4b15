// Package lifecycle owns the session process state machine. It is the only
// writer of process state: it starts engine turns, consumes their events,
// routes tool-use permissions through the gateway, and publishes a bus event
// for every transition before the transition call returns.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/engine"
	"github.com/trydex/claude-code-viewer/internal/events"
	"github.com/trydex/claude-code-viewer/internal/events/bus"
	"github.com/trydex/claude-code-viewer/internal/permission"
	"github.com/trydex/claude-code-viewer/internal/session/registry"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

// stopReasonWaitingInput is the result subtype the engine reports when the
// turn ended because the model is waiting for more input.
const stopReasonWaitingInput = "waiting_for_input"

// Config holds lifecycle service settings.
type Config struct {
	// DefaultPermissionMode applies when a start request does not name one.
	DefaultPermissionMode string

	// PermissionTimeout bounds how long a tool-use request waits for a
	// human decision before it is denied.
	PermissionTimeout time.Duration

	// TerminalRetention is how long terminal records stay queryable.
	TerminalRetention time.Duration

	// AbortGrace is how long an aborted turn gets to wind down after a
	// graceful engine interrupt before its context is hard-cancelled.
	AbortGrace time.Duration

	// PruneInterval is how often the janitor runs. Zero means a tenth of
	// the retention, clamped to [10s, 1m].
	PruneInterval time.Duration
}

// StartRequest describes a new session process.
type StartRequest struct {
	ProjectID      string
	CWD            string
	Input          string
	BaseSessionID  string
	PermissionMode string
}

// proc is the service's runtime handle for one session process. Its mutex
// serializes state transitions so each process sees a total order.
type proc struct {
	mu     sync.Mutex
	rec    registry.SessionProcess
	cancel context.CancelFunc
	run    engine.Run
	mode   permission.Mode

	// done closes when the turn's event stream has been fully consumed.
	done chan struct{}
}

// Service drives session processes from start to a terminal state.
type Service struct {
	cfg      Config
	engine   engine.Engine
	registry *registry.Registry
	gateway  *permission.Gateway
	bus      bus.EventBus
	logger   *logger.Logger

	mu    sync.Mutex
	procs map[string]*proc

	// claimMu serializes session id claims so the check for an existing live
	// holder and the claiming transition are one atomic step.
	claimMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates a lifecycle service.
func NewService(
	cfg Config,
	eng engine.Engine,
	reg *registry.Registry,
	gw *permission.Gateway,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	if cfg.DefaultPermissionMode == "" {
		cfg.DefaultPermissionMode = string(permission.ModeDefault)
	}
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = 5 * time.Minute
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = 10 * time.Minute
	}
	if cfg.AbortGrace <= 0 {
		cfg.AbortGrace = 5 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = cfg.TerminalRetention / 10
		if cfg.PruneInterval < 10*time.Second {
			cfg.PruneInterval = 10 * time.Second
		}
		if cfg.PruneInterval > time.Minute {
			cfg.PruneInterval = time.Minute
		}
	}
	return &Service{
		cfg:      cfg,
		engine:   eng,
		registry: reg,
		gateway:  gw,
		bus:      eventBus,
		logger:   log.WithFields(zap.String("component", "lifecycle")),
		procs:    make(map[string]*proc),
		stopCh:   make(chan struct{}),
	}
}

// Start validates the request, verifies the engine, registers a starting
// process, and launches the turn in the background. The starting record is
// returned; progress arrives via session_process.changed events.
func (s *Service) Start(ctx context.Context, req StartRequest) (*v1.SessionProcess, error) {
	if req.ProjectID == "" {
		return nil, apperrors.InvalidInput("projectId is required")
	}
	if req.CWD == "" {
		return nil, apperrors.InvalidInput("cwd is required")
	}
	if req.Input == "" {
		return nil, apperrors.InvalidInput("input is required")
	}
	mode := req.PermissionMode
	if mode == "" {
		mode = s.cfg.DefaultPermissionMode
	}
	if !permission.ValidMode(mode) {
		return nil, apperrors.InvalidInput("unknown permission mode: " + mode)
	}

	if req.BaseSessionID != "" {
		if active := s.registry.ActiveBySession(req.BaseSessionID); active != nil {
			return nil, apperrors.Conflict("session is busy with process " + active.ID)
		}
	}

	if err := s.engine.Preflight(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &proc{
		rec: registry.SessionProcess{
			ID:               uuid.New().String(),
			ProjectID:        req.ProjectID,
			CWD:              req.CWD,
			State:            v1.StateStarting,
			CreatedAt:        now,
			LastTransitionAt: now,
		},
		mode: permission.Mode(mode),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.procs[p.rec.ID] = p
	s.mu.Unlock()

	p.mu.Lock()
	s.registry.Upsert(&p.rec)
	s.publishChanged(&p.rec)
	p.mu.Unlock()

	s.logger.WithSessionProcessID(p.rec.ID).Info("session process starting",
		zap.String("project_id", req.ProjectID),
		zap.String("base_session_id", req.BaseSessionID))

	s.wg.Add(1)
	go s.runTurn(p, req, mode)

	return p.rec.Public(), nil
}

// Continue starts a new process that resumes the session of a finished one.
// The old process must not be live; if it is paused it is marked completed
// (superseded) first.
func (s *Service) Continue(ctx context.Context, sessionProcessID, input, permissionMode string) (*v1.SessionProcess, error) {
	old, err := s.registry.Get(sessionProcessID)
	if err != nil {
		return nil, err
	}
	if old.State.IsLive() {
		return nil, apperrors.Conflict("session process is still running")
	}
	if old.SessionID == "" {
		return nil, apperrors.Conflict("session process has no session to continue")
	}
	if active := s.registry.ActiveBySession(old.SessionID); active != nil {
		return nil, apperrors.Conflict("session is busy with process " + active.ID)
	}

	if old.State == v1.StatePaused {
		if p := s.getProc(sessionProcessID); p != nil {
			s.transition(p, func(rec *registry.SessionProcess) bool {
				rec.State = v1.StateCompleted
				return true
			})
		}
	}

	return s.Start(ctx, StartRequest{
		ProjectID:      old.ProjectID,
		CWD:            old.CWD,
		Input:          input,
		BaseSessionID:  old.SessionID,
		PermissionMode: permissionMode,
	})
}

// Abort terminates a session process. Aborting a terminal process is a
// no-op; aborting one that is waiting on a permission resolves that wait as
// cancelled. The engine is asked to stop gracefully first and hard-cancelled
// after the grace period. The abort wins any race with the engine's own
// terminal event because terminal transitions are idempotent.
func (s *Service) Abort(sessionProcessID string) error {
	p := s.getProc(sessionProcessID)
	if p == nil {
		if _, err := s.registry.Get(sessionProcessID); err != nil {
			return err
		}
		return nil // terminal record already pruned from runtime map
	}

	changed := s.transition(p, func(rec *registry.SessionProcess) bool {
		rec.State = v1.StateAborted
		return true
	})
	if !changed {
		return nil
	}

	s.gateway.CancelProcess(sessionProcessID)

	p.mu.Lock()
	run := p.run
	cancel := p.cancel
	p.mu.Unlock()

	if run == nil {
		// The turn never got off the ground; there is nothing to interrupt.
		if cancel != nil {
			cancel()
		}
	} else {
		s.wg.Add(1)
		go s.interruptTurn(p, run, cancel)
	}

	s.logger.WithSessionProcessID(sessionProcessID).Info("session process aborted")
	return nil
}

// interruptTurn asks the engine to stop and waits for the turn to wind down
// on its own; the context is hard-cancelled only if the interrupt fails or
// the grace period elapses first.
func (s *Service) interruptTurn(p *proc, run engine.Run, cancel context.CancelFunc) {
	defer s.wg.Done()

	ictx, icancel := context.WithTimeout(context.Background(), s.cfg.AbortGrace)
	err := run.Interrupt(ictx)
	icancel()

	if err == nil {
		select {
		case <-p.done:
			return
		case <-time.After(s.cfg.AbortGrace):
		}
	} else {
		s.logger.WithSessionProcessID(p.rec.ID).Debug("engine interrupt failed, cancelling turn",
			zap.Error(err))
	}
	if cancel != nil {
		cancel()
	}
}

// Get returns the public projection of a session process.
func (s *Service) Get(sessionProcessID string) (*v1.SessionProcess, error) {
	rec, err := s.registry.Get(sessionProcessID)
	if err != nil {
		return nil, err
	}
	return rec.Public(), nil
}

// List returns the public projections of all known session processes.
func (s *Service) List() []*v1.SessionProcess {
	recs := s.registry.List()
	out := make([]*v1.SessionProcess, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Public())
	}
	return out
}

// Run starts the janitor that prunes old terminal records. It returns
// immediately.
func (s *Service) Run() {
	s.wg.Add(1)
	go s.pruneLoop()
}

// Stop aborts all live processes and waits for their turns to finish.
func (s *Service) Stop() {
	close(s.stopCh)

	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Abort(id); err != nil && !apperrors.IsNotFound(err) {
			s.logger.Warn("abort during shutdown failed",
				zap.String("session_process_id", id),
				zap.Error(err))
		}
	}

	s.wg.Wait()
}

func (s *Service) getProc(id string) *proc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

// transition applies fn to the process record under its lock, stores the
// result in the registry, and publishes the change event before returning.
// fn reports whether it changed the record; nothing is stored or published
// otherwise. Once the record is terminal no further mutation is applied, so
// terminal transitions are idempotent and a second terminal cause is a no-op.
func (s *Service) transition(p *proc, fn func(rec *registry.SessionProcess) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rec.IsTerminal() {
		return false
	}

	if !fn(&p.rec) {
		return false
	}
	p.rec.LastTransitionAt = time.Now().UTC()
	s.registry.Upsert(&p.rec)
	s.publishChanged(&p.rec)
	return true
}

func (s *Service) publishChanged(rec *registry.SessionProcess) {
	s.publish(events.SessionProcessChanged{
		SessionProcessID: rec.ID,
		ProjectID:        rec.ProjectID,
		SessionID:        rec.SessionID,
		State:            string(rec.State),
	})
}

func (s *Service) publish(payload events.Payload) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), events.NewEnvelope(payload)); err != nil {
		s.logger.Warn("failed to publish lifecycle event", zap.Error(err))
	}
}

// runTurn drives one engine turn to completion.
func (s *Service) runTurn(p *proc, req StartRequest, mode string) {
	defer s.wg.Done()
	defer close(p.done)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.mu.Lock()
	p.cancel = cancel
	aborted := p.rec.IsTerminal()
	p.mu.Unlock()
	if aborted {
		return
	}

	run, err := s.engine.Run(runCtx, engine.RunRequest{
		Prompt:          req.Input,
		CWD:             req.CWD,
		ResumeSessionID: req.BaseSessionID,
		PermissionMode:  mode,
		CanUseTool:      s.canUseToolFunc(p),
	})
	if err != nil {
		s.transition(p, func(rec *registry.SessionProcess) bool {
			rec.State = v1.StateFailed
			rec.Err = err.Error()
			return true
		})
		return
	}

	p.mu.Lock()
	p.run = run
	p.mu.Unlock()

	for ev := range run.Events() {
		s.handleEngineEvent(p, runCtx, ev)
	}

	// The stream always ends with a terminal event; if it did not, the
	// engine died without reporting and the process must not stay live.
	s.transition(p, func(rec *registry.SessionProcess) bool {
		if !rec.State.IsLive() {
			return false
		}
		if runCtx.Err() != nil {
			rec.State = v1.StateAborted
			return true
		}
		rec.State = v1.StateFailed
		rec.Err = "engine stream ended unexpectedly"
		return true
	})
}

func (s *Service) handleEngineEvent(p *proc, runCtx context.Context, ev engine.Event) {
	switch ev.Type {
	case engine.EventSession:
		s.claimSession(p, ev.SessionID)

	case engine.EventText, engine.EventToolUse:
		s.transition(p, func(rec *registry.SessionProcess) bool {
			if rec.State == v1.StateStarting {
				rec.State = v1.StateRunning
				return true
			}
			return false
		})
		p.mu.Lock()
		projectID, sessionID := p.rec.ProjectID, p.rec.SessionID
		p.mu.Unlock()
		if sessionID != "" {
			s.publish(events.SessionChanged{ProjectID: projectID, SessionID: sessionID})
		}

	case engine.EventResult:
		s.transition(p, func(rec *registry.SessionProcess) bool {
			switch {
			case ev.IsError:
				rec.State = v1.StateFailed
				rec.Err = ev.ResultText
			case ev.StopReason == stopReasonWaitingInput:
				rec.State = v1.StatePaused
			default:
				rec.State = v1.StateCompleted
			}
			return true
		})

	case engine.EventError:
		s.transition(p, func(rec *registry.SessionProcess) bool {
			if runCtx.Err() != nil {
				rec.State = v1.StateAborted
				return true
			}
			rec.State = v1.StateFailed
			if ev.Err != nil {
				rec.Err = ev.Err.Error()
			}
			return true
		})
	}
}

// claimSession records the session id the engine resolved. The first live
// process to claim a session id keeps it; a loser of that race fails with a
// conflict and its turn is torn down. Claims are serialized under claimMu so
// two processes reporting the same id concurrently cannot both pass the
// holder check before either has claimed.
func (s *Service) claimSession(p *proc, sessionID string) {
	if sessionID == "" {
		return
	}

	p.mu.Lock()
	already := p.rec.SessionID
	p.mu.Unlock()
	if already == sessionID {
		return
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	if active := s.registry.ActiveBySession(sessionID); active != nil && active.ID != p.rec.ID {
		s.logger.Warn("session already claimed by another process",
			zap.String("session_process_id", p.rec.ID),
			zap.String("session_id", sessionID),
			zap.String("holder", active.ID))
		s.transition(p, func(rec *registry.SessionProcess) bool {
			rec.State = v1.StateFailed
			rec.Err = "session " + sessionID + " is already owned by process " + active.ID
			return true
		})
		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}

	var projectID string
	claimed := s.transition(p, func(rec *registry.SessionProcess) bool {
		rec.SessionID = sessionID
		if rec.State == v1.StateStarting {
			rec.State = v1.StateRunning
		}
		projectID = rec.ProjectID
		return true
	})
	if !claimed {
		return
	}

	s.publish(events.SessionChanged{ProjectID: projectID, SessionID: sessionID})
	s.publish(events.ProjectSessionListChanged{ProjectID: projectID})
}

// canUseToolFunc builds the permission callback for one process. The policy
// mode may short-circuit; otherwise the process waits on the gateway, bounded
// by the configured timeout. Every outcome is definite, so the engine always
// receives an answer.
func (s *Service) canUseToolFunc(p *proc) engine.CanUseToolFunc {
	return func(ctx context.Context, toolName string, input map[string]any) (bool, string) {
		if outcome, decided := p.mode.Evaluate(toolName); decided {
			return outcome.Allowed(), outcome.Message()
		}

		p.mu.Lock()
		id := p.rec.ID
		sessionID := p.rec.SessionID
		projectID := p.rec.ProjectID
		p.mu.Unlock()

		s.transition(p, func(rec *registry.SessionProcess) bool {
			rec.State = v1.StateWaitingPermission
			return true
		})

		req := permission.NewRequest(id, sessionID, projectID, toolName, input)
		outcome := s.gateway.Request(ctx, req, s.cfg.PermissionTimeout)

		s.transition(p, func(rec *registry.SessionProcess) bool {
			if rec.State == v1.StateWaitingPermission {
				rec.State = v1.StateRunning
				return true
			}
			return false
		})

		return outcome.Allowed(), outcome.Message()
	}
}

func (s *Service) pruneLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.cfg.TerminalRetention)
			removed := s.registry.PruneTerminal(cutoff)
			s.pruneProcs(cutoff)
			if removed > 0 {
				s.logger.Debug("pruned terminal session processes",
					zap.Int("count", removed))
			}
		}
	}
}

func (s *Service) pruneProcs(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.procs {
		p.mu.Lock()
		prune := p.rec.IsTerminal() && p.rec.LastTransitionAt.Before(cutoff)
		p.mu.Unlock()
		if prune {
			delete(s.procs, id)
		}
	}
}
