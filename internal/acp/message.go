package acp

import "encoding/json"

// MessageKind discriminates the closed variant set a Backend emits.
type MessageKind string

const (
	KindStatus             MessageKind = "status"
	KindModelOutput        MessageKind = "model-output"
	KindToolCall           MessageKind = "tool-call"
	KindToolResult         MessageKind = "tool-result"
	KindEvent              MessageKind = "event"
	KindPermissionRequest  MessageKind = "permission-request"
	KindPermissionResponse MessageKind = "permission-response"
	KindTokenCount         MessageKind = "token-count"
	KindFSEdit             MessageKind = "fs-edit"
	KindTerminalOutput     MessageKind = "terminal-output"
)

// RunStatus is the value carried by a status Message.
type RunStatus string

const (
	StatusRunning  RunStatus = "running"
	StatusIdle     RunStatus = "idle"
	StatusStarting RunStatus = "starting"
	StatusError    RunStatus = "error"
	StatusStopped  RunStatus = "stopped"
)

// Message is the flat, internal stream a Backend emits, consumed by the
// turn mapper. Exactly one payload field is populated, selected by Kind —
// the same "discriminator plus optional payload pointers" shape used
// throughout the session/event types in this domain.
type Message struct {
	Kind MessageKind

	Status             *StatusPayload
	ModelOutput        *ModelOutputPayload
	ToolCall           *ToolCallPayload
	ToolResult         *ToolResultPayload
	Event              *EventPayload
	PermissionRequest  *PermissionRequestPayload
	PermissionResponse *PermissionResponsePayload
	TokenCount         *TokenCountPayload
}

// StatusPayload carries a Backend lifecycle transition. ExitCode is only
// set on a StatusError transition caused by the child process exiting on
// its own, outside of a caller-initiated Dispose.
type StatusPayload struct {
	Status   RunStatus
	Detail   string
	ExitCode *int
}

// ModelOutputPayload carries one streamed chunk of assistant text.
type ModelOutputPayload struct {
	TextDelta string
}

// ToolCallPayload announces a new tool call.
type ToolCallPayload struct {
	CallID   string
	ToolName string
	Args     map[string]any
}

// ToolResultPayload announces a tool call's terminal outcome.
type ToolResultPayload struct {
	CallID   string
	ToolName string
	Result   map[string]any
}

// EventPayload is the carrier for thinking/plan/available_commands and
// the three overlapping config-surface updates. Raw carries the
// untouched JSON for the config-surface events (config_options_update,
// modes_update, models_update), since flattening them into Payload loses
// the array/object shape Merge needs.
type EventPayload struct {
	Name    string
	Payload map[string]any
	Raw     json.RawMessage
}

// PermissionRequestPayload announces an agent-side permission request.
type PermissionRequestPayload struct {
	ID      string
	Reason  string
	Payload map[string]any
}

// PermissionResponsePayload echoes a decision made on a permission request.
type PermissionResponsePayload struct {
	ID       string
	Approved bool
}

// TokenCountPayload carries an agent-reported token usage total.
type TokenCountPayload struct {
	Total int
}

func statusMsg(s RunStatus, detail string) Message {
	return Message{Kind: KindStatus, Status: &StatusPayload{Status: s, Detail: detail}}
}

func modelOutputMsg(delta string) Message {
	return Message{Kind: KindModelOutput, ModelOutput: &ModelOutputPayload{TextDelta: delta}}
}

func toolCallMsg(callID, toolName string, args map[string]any) Message {
	return Message{Kind: KindToolCall, ToolCall: &ToolCallPayload{CallID: callID, ToolName: toolName, Args: args}}
}

func toolResultMsg(callID, toolName string, result map[string]any) Message {
	return Message{Kind: KindToolResult, ToolResult: &ToolResultPayload{CallID: callID, ToolName: toolName, Result: result}}
}

func eventMsg(name string, payload map[string]any) Message {
	return Message{Kind: KindEvent, Event: &EventPayload{Name: name, Payload: payload}}
}

func rawEventMsg(name string, raw json.RawMessage) Message {
	return Message{Kind: KindEvent, Event: &EventPayload{Name: name, Raw: raw}}
}

func statusErrorExitMsg(detail string, code int) Message {
	return Message{Kind: KindStatus, Status: &StatusPayload{Status: StatusError, Detail: detail, ExitCode: &code}}
}

func permissionRequestMsg(id, reason string, payload map[string]any) Message {
	return Message{Kind: KindPermissionRequest, PermissionRequest: &PermissionRequestPayload{ID: id, Reason: reason, Payload: payload}}
}

func permissionResponseMsg(id string, approved bool) Message {
	return Message{Kind: KindPermissionResponse, PermissionResponse: &PermissionResponsePayload{ID: id, Approved: approved}}
}
