package permission

// Mode controls how tool-use requests are handled before the gateway is
// consulted.
type Mode string

const (
	// ModeDefault asks the operator for every tool use the engine escalates.
	ModeDefault Mode = "default"

	// ModeAcceptEdits auto-allows file edit tools and asks for everything else.
	ModeAcceptEdits Mode = "acceptEdits"

	// ModeBypassPermissions auto-allows every tool use.
	ModeBypassPermissions Mode = "bypassPermissions"

	// ModePlan denies tools that would mutate state; the engine plans only.
	ModePlan Mode = "plan"
)

// ValidMode reports whether s names a known permission mode.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModeDefault, ModeAcceptEdits, ModeBypassPermissions, ModePlan:
		return true
	}
	return false
}

var editTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

var mutatingTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
	"Bash":         true,
}

// Evaluate applies the mode's policy to a tool use before a gateway request
// is created. It returns the short-circuit outcome and true when the mode
// decides on its own, or false when the operator must be asked.
func (m Mode) Evaluate(toolName string) (Outcome, bool) {
	switch m {
	case ModeBypassPermissions:
		return OutcomeAllow, true
	case ModeAcceptEdits:
		if editTools[toolName] {
			return OutcomeAllow, true
		}
	case ModePlan:
		if mutatingTools[toolName] {
			return OutcomeDeny, true
		}
		return OutcomeAllow, true
	}
	return "", false
}
