package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	"github.com/trydex/claude-code-viewer/internal/engine"
	"github.com/trydex/claude-code-viewer/internal/events"
	eventbus "github.com/trydex/claude-code-viewer/internal/events/bus"
	"github.com/trydex/claude-code-viewer/internal/permission"
	"github.com/trydex/claude-code-viewer/internal/session/registry"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

// fakeRun replays a scripted turn.
type fakeRun struct {
	events      chan engine.Event
	interrupted chan struct{}
	once        sync.Once
}

func (r *fakeRun) Events() <-chan engine.Event { return r.events }

func (r *fakeRun) Interrupt(context.Context) error {
	if r.interrupted != nil {
		r.once.Do(func() { close(r.interrupted) })
	}
	return nil
}

// turnScript drives one fake turn. emit sends an event; the channel is
// closed when the script returns.
type turnScript func(ctx context.Context, req engine.RunRequest, emit func(engine.Event))

type fakeEngine struct {
	mu           sync.Mutex
	script       turnScript
	preflightErr error
	runs         int
	lastReq      engine.RunRequest

	// interrupted, when set, is closed by the first Interrupt on any run.
	interrupted chan struct{}
}

func (e *fakeEngine) Preflight(context.Context) error {
	return e.preflightErr
}

func (e *fakeEngine) Run(ctx context.Context, req engine.RunRequest) (engine.Run, error) {
	e.mu.Lock()
	e.runs++
	e.lastReq = req
	script := e.script
	interrupted := e.interrupted
	e.mu.Unlock()

	run := &fakeRun{events: make(chan engine.Event, 32), interrupted: interrupted}
	go func() {
		defer close(run.events)
		if script != nil {
			script(ctx, req, func(ev engine.Event) { run.events <- ev })
		}
	}()
	return run, nil
}

func (e *fakeEngine) runCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

type fixture struct {
	svc     *Service
	eng     *fakeEngine
	reg     *registry.Registry
	gateway *permission.Gateway
	bus     eventbus.EventBus
}

func newFixture(t *testing.T, script turnScript) *fixture {
	t.Helper()
	b := eventbus.NewMemoryEventBus(nil)
	t.Cleanup(func() { _ = b.Close() })

	reg := registry.NewRegistry()
	gw := permission.NewGateway(b, nil)
	eng := &fakeEngine{script: script}
	svc := NewService(Config{
		PermissionTimeout: 2 * time.Second,
		TerminalRetention: time.Hour,
		AbortGrace:        100 * time.Millisecond,
	}, eng, reg, gw, b, nil)

	return &fixture{svc: svc, eng: eng, reg: reg, gateway: gw, bus: b}
}

func startReq() StartRequest {
	return StartRequest{
		ProjectID: "proj-1",
		CWD:       "/tmp/proj",
		Input:     "do the thing",
	}
}

func waitForState(t *testing.T, svc *Service, id string, want v1.SessionProcessState) *v1.SessionProcess {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		proc, err := svc.Get(id)
		require.NoError(t, err)
		if proc.State == want {
			return proc
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, currently %s", want, proc.State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitForPending(t *testing.T, gw *permission.Gateway) *permission.Request {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if pending := gw.Pending(); len(pending) > 0 {
			return pending[0]
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a pending permission request")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartRunsToCompletion(t *testing.T) {
	f := newFixture(t, func(_ context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		emit(engine.Event{Type: engine.EventText, Text: "working on it"})
		emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
	})

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	assert.Equal(t, v1.StateStarting, proc.State)

	final := waitForState(t, f.svc, proc.ID, v1.StateCompleted)
	assert.Equal(t, "sess-1", final.SessionID)
	assert.Empty(t, final.Error)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, nil)

	cases := []StartRequest{
		{CWD: "/tmp", Input: "x"},
		{ProjectID: "p", Input: "x"},
		{ProjectID: "p", CWD: "/tmp"},
		{ProjectID: "p", CWD: "/tmp", Input: "x", PermissionMode: "bogus"},
	}
	for _, req := range cases {
		_, err := f.svc.Start(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Code(err))
	}
	assert.Equal(t, 0, f.eng.runCount())
}

func TestStartEnginePreflightFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.eng.preflightErr = apperrors.UpstreamUnavailable("claude not found", nil)

	_, err := f.svc.Start(context.Background(), startReq())
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamUnavailable(err))
	assert.Equal(t, 0, f.eng.runCount())
}

func TestEngineErrorFailsProcess(t *testing.T) {
	f := newFixture(t, func(_ context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		emit(engine.Event{Type: engine.EventResult, IsError: true, ResultText: "model blew up"})
	})

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)

	final := waitForState(t, f.svc, proc.ID, v1.StateFailed)
	assert.Equal(t, "model blew up", final.Error)
}

func TestPausedWhenWaitingForInput(t *testing.T) {
	f := newFixture(t, func(_ context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		emit(engine.Event{Type: engine.EventResult, StopReason: stopReasonWaitingInput})
	})

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)

	waitForState(t, f.svc, proc.ID, v1.StatePaused)
}

func TestAbortLiveProcess(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		select {
		case <-ctx.Done():
			emit(engine.Event{Type: engine.EventError, Err: ctx.Err()})
		case <-block:
		}
	})
	defer close(block)

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	waitForState(t, f.svc, proc.ID, v1.StateRunning)

	require.NoError(t, f.svc.Abort(proc.ID))
	final := waitForState(t, f.svc, proc.ID, v1.StateAborted)
	assert.Equal(t, v1.StateAborted, final.State)

	// A second abort is a no-op, and the late engine error does not move the
	// record out of aborted.
	require.NoError(t, f.svc.Abort(proc.ID))
	time.Sleep(50 * time.Millisecond)
	again, err := f.svc.Get(proc.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.StateAborted, again.State)
}

func TestAbortUnknownProcess(t *testing.T) {
	f := newFixture(t, nil)

	err := f.svc.Abort("missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestTerminalTransitionHappensOnce(t *testing.T) {
	var changes []string
	done := make(chan struct{})
	f := newFixture(t, func(_ context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
		// A buggy engine emitting a second terminal event must be ignored.
		emit(engine.Event{Type: engine.EventResult, IsError: true, ResultText: "late error"})
		close(done)
	})

	var mu sync.Mutex
	_, err := f.bus.Subscribe(events.KindSessionProcessChanged, func(_ context.Context, env *events.Envelope) error {
		p := env.Payload.(events.SessionProcessChanged)
		mu.Lock()
		changes = append(changes, p.State)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	<-done
	final := waitForState(t, f.svc, proc.ID, v1.StateCompleted)
	assert.Empty(t, final.Error)

	mu.Lock()
	defer mu.Unlock()
	terminal := 0
	for _, st := range changes {
		if v1.SessionProcessState(st).IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal, "terminal transition must be published exactly once, got %v", changes)
}

func TestSessionClaimConflictFailsLoser(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-shared"})
		select {
		case <-ctx.Done():
			emit(engine.Event{Type: engine.EventError, Err: ctx.Err()})
		case <-block:
			emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
		}
	})

	first, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	waitForState(t, f.svc, first.ID, v1.StateRunning)

	second, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)

	lost := waitForState(t, f.svc, second.ID, v1.StateFailed)
	assert.Contains(t, lost.Error, "sess-shared")

	// The winner is unaffected and finishes normally.
	close(block)
	waitForState(t, f.svc, first.ID, v1.StateCompleted)
}

func TestConcurrentSessionClaimSingleWinner(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		<-gate
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-race"})
		<-ctx.Done()
		emit(engine.Event{Type: engine.EventError, Err: ctx.Err()})
	})

	const racers = 4
	ids := make([]string, 0, racers)
	for i := 0; i < racers; i++ {
		proc, err := f.svc.Start(context.Background(), startReq())
		require.NoError(t, err)
		ids = append(ids, proc.ID)
	}

	// All turns report the same session id at once; the claims must
	// serialize so exactly one process stays live.
	close(gate)

	deadline := time.After(3 * time.Second)
	for {
		live, failed := 0, 0
		for _, id := range ids {
			proc, err := f.svc.Get(id)
			require.NoError(t, err)
			switch {
			case proc.State == v1.StateFailed:
				failed++
			case proc.State.IsLive() && proc.SessionID == "sess-race":
				live++
			}
		}
		if live == 1 && failed == racers-1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected a single live claimant, have %d live and %d failed", live, failed)
		case <-time.After(5 * time.Millisecond):
		}
	}

	holder := f.reg.ActiveBySession("sess-race")
	require.NotNil(t, holder)
	require.NoError(t, f.svc.Abort(holder.ID))
	waitForState(t, f.svc, holder.ID, v1.StateAborted)
}

func TestAbortInterruptsEngineFirst(t *testing.T) {
	interrupted := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-int"})
		select {
		case <-interrupted:
			emit(engine.Event{Type: engine.EventResult, StopReason: "interrupted"})
		case <-ctx.Done():
			emit(engine.Event{Type: engine.EventError, Err: ctx.Err()})
		}
	})
	f.eng.interrupted = interrupted

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	waitForState(t, f.svc, proc.ID, v1.StateRunning)

	require.NoError(t, f.svc.Abort(proc.ID))
	waitForState(t, f.svc, proc.ID, v1.StateAborted)

	// The engine got a graceful stop request, not just a killed context.
	select {
	case <-interrupted:
	case <-time.After(2 * time.Second):
		t.Fatal("abort never asked the engine to interrupt the turn")
	}
}

func TestPermissionFlowAllow(t *testing.T) {
	decisions := make(chan bool, 1)
	f := newFixture(t, func(ctx context.Context, req engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		allowed, _ := req.CanUseTool(ctx, "Bash", map[string]any{"command": "ls"})
		decisions <- allowed
		emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
	})

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)

	waitForState(t, f.svc, proc.ID, v1.StateWaitingPermission)

	pending := waitForPending(t, f.gateway)
	assert.Equal(t, proc.ID, pending.SessionProcessID)
	assert.Equal(t, "Bash", pending.ToolName)

	require.NoError(t, f.gateway.Respond(pending.ID, permission.DecisionAllow))

	assert.True(t, <-decisions)
	waitForState(t, f.svc, proc.ID, v1.StateCompleted)
}

func TestPermissionTimeoutDenies(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, req engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		allowed, message := req.CanUseTool(ctx, "Bash", nil)
		if allowed {
			emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
			return
		}
		emit(engine.Event{Type: engine.EventText, Text: "tool denied: " + message})
		emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
	})
	f.svc.cfg.PermissionTimeout = 30 * time.Millisecond

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)

	// Nobody responds; the wait times out, the tool is denied, and the turn
	// still completes.
	waitForState(t, f.svc, proc.ID, v1.StateCompleted)
	assert.Empty(t, f.gateway.Pending())
}

func TestAbortReleasesPermissionWait(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, req engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		allowed, _ := req.CanUseTool(ctx, "Bash", nil)
		if !allowed && ctx.Err() != nil {
			emit(engine.Event{Type: engine.EventError, Err: ctx.Err()})
			return
		}
		emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
	})
	f.svc.cfg.PermissionTimeout = time.Minute

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	waitForState(t, f.svc, proc.ID, v1.StateWaitingPermission)
	waitForPending(t, f.gateway)

	require.NoError(t, f.svc.Abort(proc.ID))

	waitForState(t, f.svc, proc.ID, v1.StateAborted)
	assert.Empty(t, f.gateway.Pending())
}

func TestBypassModeSkipsGateway(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, req engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		allowed, _ := req.CanUseTool(ctx, "Bash", nil)
		if !allowed {
			emit(engine.Event{Type: engine.EventResult, IsError: true, ResultText: "denied"})
			return
		}
		emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
	})

	req := startReq()
	req.PermissionMode = string(permission.ModeBypassPermissions)
	proc, err := f.svc.Start(context.Background(), req)
	require.NoError(t, err)

	waitForState(t, f.svc, proc.ID, v1.StateCompleted)
	assert.Empty(t, f.gateway.Pending())
}

func TestContinueFinishedProcess(t *testing.T) {
	f := newFixture(t, func(_ context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
	})

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	waitForState(t, f.svc, proc.ID, v1.StateCompleted)

	next, err := f.svc.Continue(context.Background(), proc.ID, "keep going", "")
	require.NoError(t, err)
	assert.NotEqual(t, proc.ID, next.ID)

	waitForState(t, f.svc, next.ID, v1.StateCompleted)

	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	assert.Equal(t, "sess-1", f.eng.lastReq.ResumeSessionID)
	assert.Equal(t, "keep going", f.eng.lastReq.Prompt)
}

func TestContinueBusyProcessConflicts(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		select {
		case <-ctx.Done():
			emit(engine.Event{Type: engine.EventError, Err: ctx.Err()})
		case <-block:
		}
	})
	defer close(block)

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	waitForState(t, f.svc, proc.ID, v1.StateRunning)

	_, err = f.svc.Continue(context.Background(), proc.ID, "more", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestContinuePausedProcessSupersedesIt(t *testing.T) {
	f := newFixture(t, func(_ context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventSession, SessionID: "sess-1"})
		emit(engine.Event{Type: engine.EventResult, StopReason: stopReasonWaitingInput})
	})

	proc, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	waitForState(t, f.svc, proc.ID, v1.StatePaused)

	next, err := f.svc.Continue(context.Background(), proc.ID, "answer", "")
	require.NoError(t, err)

	old, err := f.svc.Get(proc.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.StateCompleted, old.State)

	waitForState(t, f.svc, next.ID, v1.StatePaused)
}

func TestContinueUnknownProcess(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Continue(context.Background(), "missing", "x", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPublishBeforeReturn(t *testing.T) {
	f := newFixture(t, nil)

	var sawStarting bool
	_, err := f.bus.Subscribe(events.KindSessionProcessChanged, func(_ context.Context, env *events.Envelope) error {
		p := env.Payload.(events.SessionProcessChanged)
		if p.State == string(v1.StateStarting) {
			sawStarting = true
		}
		return nil
	})
	require.NoError(t, err)

	_, err = f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	assert.True(t, sawStarting, "starting event must be published before Start returns")
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t, func(_ context.Context, _ engine.RunRequest, emit func(engine.Event)) {
		emit(engine.Event{Type: engine.EventResult, StopReason: "success"})
	})

	a, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)
	b, err := f.svc.Start(context.Background(), startReq())
	require.NoError(t, err)

	assert.Len(t, f.svc.List(), 2)

	got, err := f.svc.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	waitForState(t, f.svc, a.ID, v1.StateCompleted)
	waitForState(t, f.svc, b.ID, v1.StateCompleted)
}
