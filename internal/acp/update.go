package acp

import (
	"encoding/json"
	"regexp"
)

// thinkingHeader matches the synthetic "**Heading**\n" prefix some agents
// emit inside an otherwise ordinary agent_message_chunk to signal that the
// chunk is actually a thinking block rather than assistant-visible text.
var thinkingHeader = regexp.MustCompile(`^\*\*[^*]+\*\*\n`)

// UpdateHandler turns inbound session/update notifications into the flat
// Message stream, owning the mutable state (active tool calls, idle
// timer) a handler needs across a whole prompt turn rather than per
// notification.
type UpdateHandler struct {
	hooks Hooks
	calls *CallTracker
	idle  *IdleTimer
	emit  func(Message)

	toolCallCountSincePrompt int
}

// NewUpdateHandler wires a handler whose idle timer and stale-call timeout
// both call emit directly, since those fire later on their own goroutine
// rather than through a Handle return value.
func NewUpdateHandler(hooks Hooks, emit func(Message)) *UpdateHandler {
	if hooks == nil {
		hooks = DefaultHooks{}
	}
	h := &UpdateHandler{hooks: hooks, emit: emit}
	h.calls = NewCallTracker(hooks, h.onCallStale)
	h.idle = NewIdleTimer(hooks.GetIdleTimeout(), h.onIdleFired)
	return h
}

func (h *UpdateHandler) onIdleFired() {
	if h.calls.Count() == 0 {
		h.emit(statusMsg(StatusIdle, ""))
	}
}

func (h *UpdateHandler) onCallStale(callID, toolName string) {
	if h.calls.Count() == 0 {
		h.idle.Stop()
		h.emit(statusMsg(StatusIdle, ""))
	}
}

// ResetPromptState clears per-prompt counters; Backend.SendPrompt calls
// this before issuing the next "prompt" RPC.
func (h *UpdateHandler) ResetPromptState() {
	h.toolCallCountSincePrompt = 0
}

// ToolCallCountSincePrompt reports how many distinct tool calls have
// started since the last ResetPromptState.
func (h *UpdateHandler) ToolCallCountSincePrompt() int {
	return h.toolCallCountSincePrompt
}

// Dispose stops every owned timer; Backend.Dispose calls this.
func (h *UpdateHandler) Dispose() {
	h.calls.StopAll()
	h.idle.Stop()
}

// Handle dispatches one session/update notification and returns the
// Messages it produces synchronously. Idle and stale-call transitions
// that fire later arrive through emit instead of this return value.
func (h *UpdateHandler) Handle(u UpdateContent) []Message {
	switch u.SessionUpdate {
	case "agent_message_chunk":
		return h.handleAgentMessageChunk(u)
	case "agent_thought_chunk":
		return h.handleAgentThoughtChunk(u)
	case "tool_call":
		return h.handleToolCall(u)
	case "tool_call_update":
		return h.handleToolCallUpdate(u)
	case "available_commands_update":
		return []Message{eventMsg("available_commands", decodeAny(u.AvailableCommands))}
	case "config_option_update", "config_options_update":
		return []Message{rawEventMsg("config_options_update", u.ConfigOptions)}
	case "modes_update":
		return []Message{rawEventMsg("modes_update", u.Modes)}
	case "models_update":
		return []Message{rawEventMsg("models_update", u.Models)}
	case "current_mode_update":
		return []Message{eventMsg("current_mode_update", map[string]any{"currentModeId": u.CurrentModeID})}

	// legacy sessionUpdate kinds predating the current ACP notification names.
	case "messageChunk":
		if u.TextDelta == "" {
			return nil
		}
		h.idle.Reset()
		return []Message{modelOutputMsg(u.TextDelta)}
	case "plan":
		return []Message{eventMsg("plan", map[string]any{"entries": decodeAny(u.Entries)})}
	case "thinking":
		return []Message{eventMsg("thinking", map[string]any{"text": u.Text, "streaming": u.Streaming})}
	}
	return nil
}

func (h *UpdateHandler) handleAgentMessageChunk(u UpdateContent) []Message {
	text := decodeText(u.Content)
	if text == "" {
		return nil
	}
	if thinkingHeader.MatchString(text) {
		return []Message{eventMsg("thinking", map[string]any{"text": text, "streaming": true})}
	}
	h.idle.Reset()
	return []Message{modelOutputMsg(text)}
}

func (h *UpdateHandler) handleAgentThoughtChunk(u UpdateContent) []Message {
	text := decodeText(u.Content)
	if text == "" {
		return nil
	}
	return []Message{eventMsg("thinking", map[string]any{"text": text, "streaming": true})}
}

func (h *UpdateHandler) handleToolCall(u UpdateContent) []Message {
	if h.calls.IsActive(u.ToolCallID) {
		return nil
	}
	toolName := h.resolveToolName(u)
	h.calls.Start(u.ToolCallID, toolName, u.Kind)
	h.toolCallCountSincePrompt++
	return []Message{
		statusMsg(StatusRunning, ""),
		toolCallMsg(u.ToolCallID, toolName, parseArgs(u)),
	}
}

func (h *UpdateHandler) handleToolCallUpdate(u UpdateContent) []Message {
	switch u.Status {
	case "in_progress", "pending":
		if h.calls.IsActive(u.ToolCallID) {
			return nil
		}
		toolName := h.resolveToolName(u)
		h.calls.Start(u.ToolCallID, toolName, u.Kind)
		h.toolCallCountSincePrompt++
		return []Message{
			statusMsg(StatusRunning, ""),
			toolCallMsg(u.ToolCallID, toolName, parseArgs(u)),
		}

	case "completed":
		toolName := h.resolveToolName(u)
		h.calls.Stop(u.ToolCallID)
		msgs := []Message{toolResultMsg(u.ToolCallID, toolName, map[string]any{"status": u.Status})}
		if h.calls.Count() == 0 {
			h.idle.Stop()
			msgs = append(msgs, statusMsg(StatusIdle, ""))
		}
		return msgs

	case "failed", "cancelled":
		toolName := h.resolveToolName(u)
		h.calls.Stop(u.ToolCallID)
		msgs := []Message{toolResultMsg(u.ToolCallID, toolName, map[string]any{
			"status": u.Status,
			"error":  extractErrorDetail(u),
		})}
		if h.calls.Count() == 0 {
			h.idle.Stop()
			msgs = append(msgs, statusMsg(StatusIdle, ""))
		}
		return msgs
	}
	return nil
}

func (h *UpdateHandler) resolveToolName(u UpdateContent) string {
	if override := h.hooks.ExtractToolNameFromID(u.ToolCallID); override != "" {
		return override
	}
	name := u.Kind
	if name == "" {
		name = u.Title
	}
	if name == "" || name == "other" || name == "Unknown" {
		var input map[string]any
		if len(u.RawInput) > 0 {
			_ = json.Unmarshal(u.RawInput, &input)
		}
		if resolved := h.hooks.DetermineToolName(name, u.ToolCallID, input); resolved != "" {
			return resolved
		}
	}
	return name
}

// parseArgs builds a tool call's args map from its rawInput (object as-is,
// array wrapped under "items") plus locations when present.
func parseArgs(u UpdateContent) map[string]any {
	args := map[string]any{}
	if len(u.RawInput) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(u.RawInput, &obj); err == nil {
			args = obj
		} else {
			var arr []any
			if err := json.Unmarshal(u.RawInput, &arr); err == nil {
				args = map[string]any{"items": arr}
			}
		}
	}
	if len(u.Locations) > 0 {
		var locs any
		if err := json.Unmarshal(u.Locations, &locs); err == nil {
			args["locations"] = locs
		}
	}
	return args
}

// extractErrorDetail follows the priority chain content.error.message,
// content.error, content.message, status, else a truncated JSON dump.
func extractErrorDetail(u UpdateContent) string {
	if len(u.Content) > 0 {
		var generic map[string]any
		if err := json.Unmarshal(u.Content, &generic); err == nil {
			if errVal, ok := generic["error"]; ok {
				switch e := errVal.(type) {
				case map[string]any:
					if msg, ok := e["message"].(string); ok && msg != "" {
						return msg
					}
					if b, err := json.Marshal(e); err == nil {
						return truncate(string(b), 500)
					}
				case string:
					if e != "" {
						return e
					}
				}
			}
			if msg, ok := generic["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	if u.Status != "" {
		return u.Status
	}
	if len(u.Content) > 0 {
		return truncate(string(u.Content), 500)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func decodeText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var tc TextContent
	if err := json.Unmarshal(raw, &tc); err != nil {
		return ""
	}
	return tc.Text
}

func decodeAny(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}
