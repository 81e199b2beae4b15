// Package claudecode speaks the Claude Code CLI stream-json protocol: newline
// delimited JSON over stdin/stdout, with control_request/control_response
// frames for tool-use permissions.
package claudecode

import "encoding/json"

// Message types on the wire
const (
	MessageTypeSystem          = "system"
	MessageTypeAssistant       = "assistant"
	MessageTypeUser            = "user"
	MessageTypeResult          = "result"
	MessageTypeControlRequest  = "control_request"
	MessageTypeControlResponse = "control_response"
)

// Control request subtypes
const (
	SubtypeCanUseTool = "can_use_tool"
	SubtypeInitialize = "initialize"
	SubtypeInterrupt  = "interrupt"
)

// Permission behaviors in a control response
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// CLIMessage is one line of CLI stdout. The type field determines which other
// fields are populated.
type CLIMessage struct {
	Type string `json:"type"`

	// control_request
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`

	// control_response (responses to requests we sent)
	Response *IncomingControlResponse `json:"response,omitempty"`

	// system
	SessionID string `json:"session_id,omitempty"`

	// assistant
	Message *AssistantMessage `json:"message,omitempty"`

	// result. The result field is a string for errors and an object otherwise.
	Result     json.RawMessage `json:"result,omitempty"`
	Subtype    string          `json:"subtype,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
}

// ResultString returns the result field when it is a plain string, typically
// an error message. Returns "" when the result is absent or structured.
func (m *CLIMessage) ResultString() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err != nil {
		return ""
	}
	return s
}

// AssistantMessage is the assistant's content for one stdout line.
type AssistantMessage struct {
	Role       string         `json:"role"`
	Model      string         `json:"model,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Content    []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is one block of assistant content.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ControlRequest is a control request from the CLI, currently only
// can_use_tool permission requests.
type ControlRequest struct {
	Subtype string `json:"subtype"`

	// can_use_tool
	ToolName  string         `json:"tool_name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

// ControlResponseMessage answers a control request from the CLI.
type ControlResponseMessage struct {
	Type      string           `json:"type"` // "control_response"
	RequestID string           `json:"request_id"`
	Response  *ControlResponse `json:"response"`
}

// ControlResponse is the body of a control response we send.
type ControlResponse struct {
	Subtype string            `json:"subtype"` // success, error
	Result  *PermissionResult `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// PermissionResult carries the allow/deny decision for a can_use_tool request.
type PermissionResult struct {
	Behavior string `json:"behavior"` // allow, deny

	// Message gives the model a reason when denying.
	Message string `json:"message,omitempty"`

	// Interrupt stops the turn outright on deny.
	Interrupt *bool `json:"interrupt,omitempty"`
}

// IncomingControlResponse is the CLI's answer to a control request we sent
// (initialize, interrupt).
type IncomingControlResponse struct {
	RequestID string `json:"request_id"`
	Subtype   string `json:"subtype"` // success, error
	Error     string `json:"error,omitempty"`
}

// SDKControlRequest is a control request we send to the CLI.
type SDKControlRequest struct {
	Type      string                `json:"type"` // "control_request"
	RequestID string                `json:"request_id"`
	Request   SDKControlRequestBody `json:"request"`
}

// SDKControlRequestBody is the body of an outgoing control request.
type SDKControlRequestBody struct {
	Subtype string `json:"subtype"`
}

// UserMessage delivers the prompt for a turn.
type UserMessage struct {
	Type    string          `json:"type"` // "user"
	Message UserMessageBody `json:"message"`
}

// UserMessageBody is the prompt content.
type UserMessageBody struct {
	Role    string `json:"role"` // "user"
	Content string `json:"content"`
}

// AllowResult builds an allow permission result.
func AllowResult() *PermissionResult {
	return &PermissionResult{Behavior: BehaviorAllow}
}

// DenyResult builds a deny permission result carrying a reason for the model.
func DenyResult(message string) *PermissionResult {
	return &PermissionResult{Behavior: BehaviorDeny, Message: message}
}
