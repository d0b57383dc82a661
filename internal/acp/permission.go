package acp

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// PermissionDecision is the outcome a PermissionHandler resolves a
// requestPermission call to.
type PermissionDecision string

const (
	PermissionApproved           PermissionDecision = "approved"
	PermissionApprovedForSession PermissionDecision = "approved_for_session"
	PermissionDenied             PermissionDecision = "denied"
	PermissionAbort              PermissionDecision = "abort"
)

// PermissionHandler decides the outcome of an agent-issued permission
// request. A nil handler means auto-select (see PermissionBroker.Handle).
type PermissionHandler func(req RequestPermissionParams) (PermissionDecision, error)

// PermissionBroker is the server-side implementation of ACP's
// requestPermission RPC. Unlike a UI-backed approval flow that rides a
// channel round-trip to a human, this resolves synchronously through a
// handler call, since ACP's own RPC already blocks the agent for us.
type PermissionBroker struct {
	hooks   Hooks
	handler PermissionHandler
	emit    func(Message)
}

// NewPermissionBroker builds a broker. handler may be nil.
func NewPermissionBroker(hooks Hooks, handler PermissionHandler, emit func(Message)) *PermissionBroker {
	if hooks == nil {
		hooks = DefaultHooks{}
	}
	return &PermissionBroker{hooks: hooks, handler: handler, emit: emit}
}

// Handle answers one requestPermission call. toolCallId and permissionId
// are kept equal (falling back to a fresh id when the agent omits one) so
// a reply is correlatable without an auxiliary map.
func (b *PermissionBroker) Handle(req RequestPermissionParams) RequestPermissionResult {
	id := req.ToolCall.ID
	if id == "" {
		id = uuid.New().String()
	}
	toolName := identifyTool(b.hooks, req.ToolCall)

	b.emit(permissionRequestMsg(id, toolName, permissionPayload(req)))

	decision := PermissionApproved
	if b.handler != nil {
		d, err := b.handler(req)
		if err != nil {
			// the error is neither logged nor escalated; fall back to cancel.
			decision = PermissionAbort
		} else {
			decision = d
		}
	}

	optionID, kind := mapDecision(decision, req.Options)
	approved := kind != "cancel"

	status := "denied"
	if approved {
		status = "approved"
	}

	b.emit(permissionResponseMsg(id, approved))
	b.emit(toolResultMsg(id, toolName, map[string]any{"status": status, "decision": string(decision)}))

	return RequestPermissionResult{Outcome: PermissionOutcome{Outcome: "selected", OptionID: optionID}}
}

// identifyTool prefers the structured toolName/kind fields and falls back
// to Hooks.DetermineToolName for vague values like "other"/"Unknown".
func identifyTool(hooks Hooks, tc PermissionToolCall) string {
	name := tc.ToolName
	if name == "" {
		name = tc.Kind
	}
	if name == "" {
		name = tc.Title
	}
	if name == "" || name == "other" || name == "Unknown" {
		var input map[string]any
		if len(tc.RawInput) > 0 {
			_ = json.Unmarshal(tc.RawInput, &input)
		}
		if resolved := hooks.DetermineToolName(name, tc.ID, input); resolved != "" {
			return resolved
		}
	}
	return name
}

func permissionPayload(req RequestPermissionParams) map[string]any {
	return map[string]any{
		"toolName": req.ToolCall.ToolName,
		"kind":     req.ToolCall.Kind,
		"title":    req.ToolCall.Title,
		"options":  normalizeOptions(req.Options),
	}
}

// normalizeOptions flattens the agent-advertised option list into the
// plain id/name/kind shape a relay consumer renders choices from.
func normalizeOptions(options []PermissionOption) []map[string]any {
	out := make([]map[string]any, len(options))
	for i, opt := range options {
		out[i] = map[string]any{
			"id":   opt.OptionID,
			"name": opt.Name,
			"kind": opt.Kind,
		}
	}
	return out
}

// mapDecision resolves a decision plus the agent-advertised option list
// into the optionId to select and the kind it belongs to, falling back to
// the first option when no good match exists.
func mapDecision(d PermissionDecision, options []PermissionOption) (optionID, kind string) {
	switch d {
	case PermissionApprovedForSession:
		if opt := findByKind(options, "proceed_always"); opt != nil {
			return opt.OptionID, opt.Kind
		}
	case PermissionDenied, PermissionAbort:
		if opt := findByKind(options, "cancel"); opt != nil {
			return opt.OptionID, opt.Kind
		}
	default: // PermissionApproved, or any unrecognized decision
		if opt := findNamedOnce(options); opt != nil {
			return opt.OptionID, opt.Kind
		}
		if opt := findByKind(options, "proceed_once"); opt != nil {
			return opt.OptionID, opt.Kind
		}
	}
	if len(options) > 0 {
		return options[0].OptionID, options[0].Kind
	}
	return "", ""
}

func findByKind(options []PermissionOption, kind string) *PermissionOption {
	for i := range options {
		if options[i].Kind == kind {
			return &options[i]
		}
	}
	return nil
}

func findNamedOnce(options []PermissionOption) *PermissionOption {
	for i := range options {
		if strings.Contains(strings.ToLower(options[i].Name), "once") {
			return &options[i]
		}
	}
	return nil
}
