package engine

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/pkg/claudecode"
)

// Config holds the CLI engine settings.
type Config struct {
	// Executable is the claude binary name or path.
	Executable string

	// MinVersion is the lowest CLI version the backend supports.
	MinVersion string
}

// CLIEngine runs turns by spawning the Claude Code CLI in stream-json mode.
type CLIEngine struct {
	cfg    Config
	logger *logger.Logger

	preflightMu sync.Mutex
	preflightOK bool
}

// NewCLIEngine creates an engine for the given CLI configuration.
func NewCLIEngine(cfg Config, log *logger.Logger) *CLIEngine {
	if log == nil {
		log = logger.Default()
	}
	return &CLIEngine{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "cli_engine")),
	}
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// Preflight checks that the executable exists and its version meets the
// configured minimum. A successful check is cached for the process lifetime.
func (e *CLIEngine) Preflight(ctx context.Context) error {
	e.preflightMu.Lock()
	defer e.preflightMu.Unlock()

	if e.preflightOK {
		return nil
	}

	path, err := exec.LookPath(e.cfg.Executable)
	if err != nil {
		return apperrors.UpstreamUnavailable(
			fmt.Sprintf("agent executable '%s' not found in PATH", e.cfg.Executable), err)
	}

	versionCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(versionCtx, path, "--version").Output()
	if err != nil {
		return apperrors.UpstreamUnavailable(
			fmt.Sprintf("failed to query version of '%s'", path), err)
	}

	version := versionPattern.FindString(string(out))
	if version == "" {
		return apperrors.UpstreamUnavailable(
			fmt.Sprintf("could not parse version from %q", strings.TrimSpace(string(out))), nil)
	}
	if e.cfg.MinVersion != "" && compareVersions(version, e.cfg.MinVersion) < 0 {
		return apperrors.UpstreamUnavailable(
			fmt.Sprintf("agent version %s is older than required %s", version, e.cfg.MinVersion), nil)
	}

	e.logger.Info("agent engine available",
		zap.String("path", path),
		zap.String("version", version))
	e.preflightOK = true
	return nil
}

// Run spawns the CLI for one turn and streams its events.
func (e *CLIEngine) Run(ctx context.Context, req RunRequest) (Run, error) {
	if err := e.Preflight(ctx); err != nil {
		return nil, err
	}

	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}
	if req.PermissionMode != "" && req.PermissionMode != "default" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}

	cmd := exec.CommandContext(ctx, e.cfg.Executable, args...)
	cmd.Dir = req.CWD

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperrors.InternalError("failed to open engine stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.InternalError("failed to open engine stdout", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.UpstreamUnavailable("failed to start agent process", err)
	}

	run := &cliRun{
		client: claudecode.NewClient(stdin, stdout, e.logger),
		events: make(chan Event, 32),
		logger: e.logger,
	}
	run.start(ctx, cmd, req)
	return run, nil
}

type cliRun struct {
	client *claudecode.Client
	events chan Event
	logger *logger.Logger

	emitMu   sync.Mutex
	finished bool
}

func (r *cliRun) Events() <-chan Event { return r.events }

func (r *cliRun) Interrupt(ctx context.Context) error {
	return r.client.Interrupt(ctx, 5*time.Second)
}

// emit forwards an event unless the terminal event was already sent.
func (r *cliRun) emit(ev Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.finished {
		return
	}
	if ev.Type == EventResult || ev.Type == EventError {
		r.finished = true
	}
	r.events <- ev
}

func (r *cliRun) start(ctx context.Context, cmd *exec.Cmd, req RunRequest) {
	r.client.SetMessageHandler(func(msg *claudecode.CLIMessage) {
		r.handleMessage(msg)
	})
	r.client.SetRequestHandler(func(requestID string, ctrl *claudecode.ControlRequest) {
		r.handleControlRequest(ctx, requestID, ctrl, req.CanUseTool)
	})

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.client.Run(runCtx)
	})
	g.Go(func() error {
		if err := r.client.SendUserMessage(req.Prompt); err != nil {
			return err
		}
		return nil
	})

	go func() {
		readErr := g.Wait()
		waitErr := cmd.Wait()
		r.client.Stop()

		r.emitMu.Lock()
		finished := r.finished
		r.emitMu.Unlock()

		if !finished {
			// The process exited without a result line.
			err := waitErr
			if err == nil {
				err = readErr
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			if err == nil {
				err = fmt.Errorf("agent process exited without a result")
			}
			r.emit(Event{Type: EventError, Err: err})
		}
		close(r.events)
	}()
}

func (r *cliRun) handleMessage(msg *claudecode.CLIMessage) {
	switch msg.Type {
	case claudecode.MessageTypeSystem:
		if msg.SessionID != "" {
			r.emit(Event{Type: EventSession, SessionID: msg.SessionID})
		}
	case claudecode.MessageTypeAssistant:
		if msg.Message == nil {
			return
		}
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					r.emit(Event{Type: EventText, Text: block.Text})
				}
			case "tool_use":
				r.emit(Event{Type: EventToolUse, ToolName: block.Name, ToolInput: block.Input})
			}
		}
	case claudecode.MessageTypeResult:
		r.emit(Event{
			Type:       EventResult,
			StopReason: msg.Subtype,
			IsError:    msg.IsError,
			ResultText: msg.ResultString(),
		})
	}
}

func (r *cliRun) handleControlRequest(ctx context.Context, requestID string, ctrl *claudecode.ControlRequest, canUseTool CanUseToolFunc) {
	if ctrl.Subtype != claudecode.SubtypeCanUseTool {
		return
	}

	var result *claudecode.PermissionResult
	if canUseTool == nil {
		result = claudecode.DenyResult("no permission handler configured")
	} else if allowed, message := canUseTool(ctx, ctrl.ToolName, ctrl.Input); allowed {
		result = claudecode.AllowResult()
	} else {
		result = claudecode.DenyResult(message)
	}

	if err := r.client.RespondCanUseTool(requestID, result); err != nil {
		r.logger.Warn("failed to answer permission request",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// compareVersions compares two dotted numeric versions. Returns -1, 0, or 1.
func compareVersions(a, b string) int {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var na, nb int
		if i < len(pa) {
			na, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			nb, _ = strconv.Atoi(pb[i])
		}
		if na < nb {
			return -1
		}
		if na > nb {
			return 1
		}
	}
	return 0
}
