// Package engine abstracts the agent engine that executes a session turn.
// The lifecycle service consumes this interface; pkg/claudecode provides the
// real implementation over the Claude Code CLI.
package engine

import "context"

// EventType classifies events emitted by a running turn.
type EventType string

const (
	// EventSession reports the session id the engine resolved for this turn.
	EventSession EventType = "session"

	// EventText carries a chunk of assistant text.
	EventText EventType = "text"

	// EventToolUse reports that the engine invoked a tool.
	EventToolUse EventType = "tool_use"

	// EventResult is the terminal event of a successful protocol exchange.
	EventResult EventType = "result"

	// EventError is the terminal event when the turn failed.
	EventError EventType = "error"
)

// Event is one observation from a running turn. Exactly one terminal event
// (result or error) is emitted before the event channel closes.
type Event struct {
	Type EventType

	// session
	SessionID string

	// text
	Text string

	// tool_use
	ToolName  string
	ToolInput map[string]any

	// result
	StopReason string
	IsError    bool
	ResultText string

	// error
	Err error
}

// CanUseToolFunc decides whether a tool use may proceed. It blocks until a
// decision exists; a false return carries the denial reason for the model.
type CanUseToolFunc func(ctx context.Context, toolName string, input map[string]any) (allowed bool, message string)

// RunRequest describes one turn to execute.
type RunRequest struct {
	Prompt          string
	CWD             string
	ResumeSessionID string
	PermissionMode  string
	CanUseTool      CanUseToolFunc
}

// Run is a handle on an in-flight turn.
type Run interface {
	// Events returns the event stream. The channel closes after the
	// terminal event.
	Events() <-chan Event

	// Interrupt asks the engine to stop the turn. The run still terminates
	// through its event stream.
	Interrupt(ctx context.Context) error
}

// Engine starts turns.
type Engine interface {
	// Preflight verifies the engine is usable (executable present, version
	// supported). Returns an UpstreamUnavailable error otherwise.
	Preflight(ctx context.Context) error

	// Run starts a turn. The returned Run's context is the given ctx;
	// cancelling it tears the turn down.
	Run(ctx context.Context, req RunRequest) (Run, error)
}
