package acp

import "time"

// Default hook values.
const (
	DefaultInitTimeout     = 60 * time.Second
	DefaultIdleTimeout     = 500 * time.Millisecond
	DefaultToolCallTimeout = 120 * time.Second
)

// Hooks is the capability set Backend consumes for per-agent tuning: a
// full interface with documented defaults, resolved the way an options
// struct is built from a list of functional options.
//
// Every method is optional: DefaultHooks answers every call with the
// documented default so a Backend constructed with nil hooks behaves
// sensibly out of the box.
type Hooks interface {
	// GetInitTimeout bounds "initialize"+"newSession".
	GetInitTimeout() time.Duration
	// GetIdleTimeout is the quiet interval after the last text chunk
	// before Backend emits an idle status.
	GetIdleTimeout() time.Duration
	// GetToolCallTimeout bounds the lifetime of a single tool call.
	GetToolCallTimeout(toolCallID, kind string) time.Duration
	// IsInvestigationTool extends a tool call's timeout and marks it for
	// richer logging.
	IsInvestigationTool(toolCallID, kind string) bool
	// ExtractToolNameFromID overrides an unreliable "kind" field. An
	// empty return means "no override, use kind as-is."
	ExtractToolNameFromID(toolCallID string) string
	// DetermineToolName resolves kind values like "other"/"Unknown" into
	// a concrete tool name. Returning "" means "no better guess."
	DetermineToolName(kind, toolCallID string, input map[string]any) string
	// FilterStdoutLine inspects one line of the child's stdout before it
	// is considered for JSON-RPC parsing. A nil *string drops the line,
	// a non-nil *string replaces it, and returning the line itself
	// unchanged is the passthrough default.
	FilterStdoutLine(line string) *string
	// HandleStderr may synthesize an agent Message from one line of the
	// child's stderr. Returning the zero Message (Kind == "") means "no
	// synthesized message."
	HandleStderr(line string) Message
}

// DefaultHooks implements Hooks with every documented default and no
// per-agent overrides. Embed it in a custom Hooks implementation to
// inherit defaults for methods you don't need to override.
type DefaultHooks struct{}

func (DefaultHooks) GetInitTimeout() time.Duration { return DefaultInitTimeout }
func (DefaultHooks) GetIdleTimeout() time.Duration { return DefaultIdleTimeout }

func (DefaultHooks) GetToolCallTimeout(toolCallID, kind string) time.Duration {
	return DefaultToolCallTimeout
}

func (DefaultHooks) IsInvestigationTool(toolCallID, kind string) bool { return false }

func (DefaultHooks) ExtractToolNameFromID(toolCallID string) string { return "" }

func (DefaultHooks) DetermineToolName(kind, toolCallID string, input map[string]any) string {
	return ""
}

func (DefaultHooks) FilterStdoutLine(line string) *string { return &line }

func (DefaultHooks) HandleStderr(line string) Message { return Message{} }

// NamedAgentHooks layers a small amount of per-agent policy on top of
// DefaultHooks, demonstrating the override path for the two agent names
// baked into the CLI's lookup table (see agents.go). Investigation
// tools get a 10-minute timeout instead of the 2-minute default, and
// bash-ish tools are treated as investigation tools for gemini.
type NamedAgentHooks struct {
	DefaultHooks
	AgentName string
}

func (h NamedAgentHooks) IsInvestigationTool(toolCallID, kind string) bool {
	switch h.AgentName {
	case "gemini":
		switch kind {
		case "execute", "Bash", "run_shell_command":
			return true
		}
	}
	return false
}

func (h NamedAgentHooks) GetToolCallTimeout(toolCallID, kind string) time.Duration {
	if h.IsInvestigationTool(toolCallID, kind) {
		return 10 * time.Minute
	}
	return DefaultToolCallTimeout
}
