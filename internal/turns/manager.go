package turns

import (
	"time"

	"github.com/google/uuid"

	"happy-acp/internal/acp"
)

// Manager is the session manager / turn mapper: it owns per-session turn
// state and projects the flat acp.Message stream into turn-organized
// Envelopes. It is not safe for concurrent use — like the Backend it
// sits downstream of, it is meant to be driven by a single reactor
// goroutine rather than guarded with a mutex, since nothing but that
// goroutine should ever touch its state.
type Manager struct {
	currentTurnID   string
	pendingText     string
	pendingThinking string
	callIDMap       map[string]string
	timeCounter     int64
}

// NewManager builds an empty Manager with no active turn.
func NewManager() *Manager {
	return &Manager{callIDMap: make(map[string]string)}
}

func (m *Manager) freshID() string {
	return uuid.New().String()
}

// nextTime returns a value strictly greater than every value it has
// previously returned, while tracking wall-clock time when that's
// already ahead of the counter.
func (m *Manager) nextTime() int64 {
	now := time.Now().UnixNano()
	if now <= m.timeCounter {
		now = m.timeCounter + 1
	}
	m.timeCounter = now
	return now
}

// StartTurn opens a new turn if none is active; repeated calls while one
// is active are a no-op.
func (m *Manager) StartTurn() []Envelope {
	if m.currentTurnID != "" {
		return nil
	}
	m.currentTurnID = m.freshID()
	return []Envelope{turnStart(m.freshID(), m.currentTurnID, m.nextTime())}
}

// EndTurn flushes any pending text/thinking (bound to whatever turn is
// current, possibly none for late output arriving after a prior
// EndTurn), then, only if a turn was actually active, emits turn-end and
// clears the turn id. Calling EndTurn with nothing active and nothing
// pending is a no-op.
func (m *Manager) EndTurn(status TurnStatus) []Envelope {
	wasActive := m.currentTurnID != ""
	turn := m.currentTurnID

	var out []Envelope
	if m.pendingText != "" {
		out = append(out, textEnv(m.freshID(), turn, m.nextTime(), m.pendingText, false))
		m.pendingText = ""
	}
	if m.pendingThinking != "" {
		out = append(out, textEnv(m.freshID(), turn, m.nextTime(), m.pendingThinking, true))
		m.pendingThinking = ""
	}

	if !wasActive {
		return out
	}
	out = append(out, turnEnd(m.freshID(), turn, m.nextTime(), status))
	m.currentTurnID = ""
	return out
}

// MapMessage dispatches one agent-message into zero or more Envelopes.
// Status and anything the turn mapper doesn't project (permission
// traffic, token counts, fs-edit, terminal output) are ignored here;
// turn lifecycle and metadata projection are the runner's job.
func (m *Manager) MapMessage(msg acp.Message) []Envelope {
	switch msg.Kind {
	case acp.KindModelOutput:
		return m.handleModelOutput(msg.ModelOutput)
	case acp.KindEvent:
		return m.handleEvent(msg.Event)
	case acp.KindToolCall:
		return m.handleToolCall(msg.ToolCall)
	case acp.KindToolResult:
		return m.handleToolResult(msg.ToolResult)
	}
	return nil
}

func (m *Manager) handleModelOutput(p *acp.ModelOutputPayload) []Envelope {
	if p == nil || p.TextDelta == "" {
		return nil
	}
	var out []Envelope
	if m.pendingThinking != "" {
		out = append(out, m.flushThinking())
	}
	m.pendingText += p.TextDelta
	return out
}

func (m *Manager) handleEvent(p *acp.EventPayload) []Envelope {
	if p == nil || p.Name != "thinking" {
		return nil
	}
	text, _ := p.Payload["text"].(string)
	streaming, _ := p.Payload["streaming"].(bool)

	if streaming {
		if text == "" {
			return nil
		}
		var out []Envelope
		if m.pendingText != "" {
			out = append(out, m.flushText())
		}
		m.pendingThinking += text
		return out
	}

	var out []Envelope
	if m.pendingText != "" {
		out = append(out, m.flushText())
	}
	if m.pendingThinking != "" {
		out = append(out, m.flushThinking())
	}
	if text == "" {
		return out
	}
	return append(out, textEnv(m.freshID(), m.currentTurnID, m.nextTime(), text, true))
}

func (m *Manager) handleToolCall(p *acp.ToolCallPayload) []Envelope {
	if p == nil {
		return nil
	}
	var out []Envelope
	if m.pendingText != "" {
		out = append(out, m.flushText())
	}
	if m.pendingThinking != "" {
		out = append(out, m.flushThinking())
	}
	ourCallID := m.freshID()
	m.callIDMap[p.CallID] = ourCallID
	out = append(out, toolCallStartEnv(m.freshID(), m.currentTurnID, m.nextTime(), ourCallID, p.ToolName, p.Args))
	return out
}

func (m *Manager) handleToolResult(p *acp.ToolResultPayload) []Envelope {
	if p == nil {
		return nil
	}
	ourCallID, ok := m.callIDMap[p.CallID]
	if !ok {
		// orphan result: still observable, under a fresh id nobody else owns.
		ourCallID = m.freshID()
	}
	delete(m.callIDMap, p.CallID)
	return []Envelope{toolCallEndEnv(m.freshID(), m.currentTurnID, m.nextTime(), ourCallID)}
}

func (m *Manager) flushText() Envelope {
	env := textEnv(m.freshID(), m.currentTurnID, m.nextTime(), m.pendingText, false)
	m.pendingText = ""
	return env
}

func (m *Manager) flushThinking() Envelope {
	env := textEnv(m.freshID(), m.currentTurnID, m.nextTime(), m.pendingThinking, true)
	m.pendingThinking = ""
	return env
}
