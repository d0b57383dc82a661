// Package acp speaks the Agent Client Protocol JSON-RPC dialect to a
// child process and normalizes its notifications into a flat Message
// stream (see Message in message.go).
package acp

import (
	"encoding/json"
	"strconv"
)

// RPCMessage is a JSON-RPC 2.0 envelope, shared by requests, responses,
// and notifications flowing in either direction over the child's stdio.
type RPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError mirrors a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// ProtocolError wraps an RPCError (or a synthesized one) returned from
// an ACP method call, so callers can distinguish protocol failures
// from transport/spawn failures with errors.As.
type ProtocolError struct {
	Method  string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Method + ": rpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// InitializeParams for the "initialize" request.
type InitializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientInfo         ClientInfo         `json:"clientInfo"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
}

// ClientInfo identifies this adapter to the agent.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ClientCapabilities describes what this client can do on the agent's behalf.
type ClientCapabilities struct {
	FS       FSCapabilities `json:"fs"`
	Terminal bool           `json:"terminal,omitempty"`
}

// FSCapabilities describes filesystem capabilities offered back to the agent.
type FSCapabilities struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// NewSessionParams for the "newSession" / "session/new" request.
type NewSessionParams struct {
	CWD        string       `json:"cwd"`
	MCPServers []MCPServer  `json:"mcpServers"`
}

// MCPServer describes a bridge an agent may reach for extra tools.
type MCPServer struct {
	Name string            `json:"name"`
	Type string            `json:"type,omitempty"` // "http" for streamable-HTTP bridges
	URL  string            `json:"url,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

// NewSessionResult from the "newSession" response.
type NewSessionResult struct {
	SessionID string          `json:"sessionId"`
	Modes     *ModesSnapshot  `json:"modes,omitempty"`
	Models    *ModelsSnapshot `json:"models,omitempty"`
	ConfigOptions json.RawMessage `json:"configOptions,omitempty"`
}

// PromptContentItem is one block of a "prompt" request's content array.
type PromptContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// PromptParams for the "prompt" request.
type PromptParams struct {
	SessionID string              `json:"sessionId"`
	Prompt    []PromptContentItem `json:"prompt"`
}

// PromptResult from the "prompt" response.
type PromptResult struct {
	StopReason string `json:"stopReason,omitempty"`
}

// CancelParams for the "cancel" notification.
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// SetSessionModeParams for the "setSessionMode" request.
type SetSessionModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// SetSessionModelParams for the unstable "setSessionModel" request.
type SetSessionModelParams struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
}

// SetSessionConfigOptionParams for the "setSessionConfigOption" request.
type SetSessionConfigOptionParams struct {
	SessionID string `json:"sessionId"`
	ConfigID  string `json:"configId"`
	Value     string `json:"value"`
}

// SessionUpdateParams for the inbound "session/update" notification.
type SessionUpdateParams struct {
	SessionID string        `json:"sessionId"`
	Update    UpdateContent `json:"update"`
}

// UpdateContent holds the heterogeneous payload of a session/update
// notification. Only the fields relevant to a given sessionUpdate kind
// are populated by the agent.
type UpdateContent struct {
	SessionUpdate string          `json:"sessionUpdate,omitempty"`
	Content       json.RawMessage `json:"content,omitempty"`

	// tool_call / tool_call_update
	ToolCallID string          `json:"toolCallId,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Title      string          `json:"title,omitempty"`
	Status     string          `json:"status,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
	Locations  json.RawMessage `json:"locations,omitempty"`

	// legacy messageChunk
	TextDelta string `json:"textDelta,omitempty"`

	// plan
	Entries json.RawMessage `json:"entries,omitempty"`

	// thinking
	Text      string `json:"text,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`

	// available_commands_update
	AvailableCommands json.RawMessage `json:"availableCommands,omitempty"`

	// config_option(s)_update / modes_update / models_update / current_mode_update
	ConfigOptions json.RawMessage `json:"configOptions,omitempty"`
	Modes         json.RawMessage `json:"modes,omitempty"`
	Models        json.RawMessage `json:"models,omitempty"`
	CurrentModeID string          `json:"currentModeId,omitempty"`
}

// TextContent is the {type, text} shape used by agent_message_chunk /
// agent_thought_chunk content blocks.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// RequestPermissionParams for the inbound "requestPermission" request.
type RequestPermissionParams struct {
	SessionID string            `json:"sessionId"`
	ToolCall  PermissionToolCall `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// PermissionToolCall identifies the tool call a permission request is about.
type PermissionToolCall struct {
	ID       string          `json:"toolCallId,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	Title    string          `json:"title,omitempty"`
	RawInput json.RawMessage `json:"rawInput,omitempty"`
}

// PermissionOption is one selectable outcome of a permission request.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"` // proceed_once | proceed_always | cancel
}

// RequestPermissionResult is the response to a "requestPermission" request.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome carries the selected (or cancelled) decision.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"` // selected | cancelled
	OptionID string `json:"optionId,omitempty"`
}

// ModesSnapshot is the legacy session-modes surface.
type ModesSnapshot struct {
	CurrentModeID  string      `json:"currentModeId,omitempty"`
	AvailableModes []LegacyMode `json:"availableModes,omitempty"`
}

// LegacyMode is one entry of the legacy availableModes array.
type LegacyMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ModelsSnapshot is the legacy session-models surface.
type ModelsSnapshot struct {
	CurrentModelID  string        `json:"currentModelId,omitempty"`
	AvailableModels []LegacyModel `json:"availableModels,omitempty"`
}

// LegacyModel is one entry of the legacy availableModels array.
type LegacyModel struct {
	ModelID     string `json:"modelId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
