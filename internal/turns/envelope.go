// Package turns projects the flat agent-message stream a Backend emits
// into the turn-organized session envelope stream an external relay
// consumes.
package turns

// EvKind discriminates the closed set of envelope payloads, the same
// "discriminator plus optional payload pointers" shape used for
// acp.Message.
type EvKind string

const (
	EvTurnStart     EvKind = "turn-start"
	EvTurnEnd       EvKind = "turn-end"
	EvText          EvKind = "text"
	EvToolCallStart EvKind = "tool-call-start"
	EvToolCallEnd   EvKind = "tool-call-end"
)

// TurnStatus is the value carried by a turn-end envelope.
type TurnStatus string

const (
	StatusCompleted TurnStatus = "completed"
	StatusFailed    TurnStatus = "failed"
	StatusCancelled TurnStatus = "cancelled"
)

// Envelope is the external, time-ordered unit emitted to the relay.
type Envelope struct {
	ID   string
	Time int64
	Turn string // opaque turn id; empty when no turn is active

	Kind          EvKind
	TurnEnd       *TurnEndPayload
	Text          *TextPayload
	ToolCallStart *ToolCallStartPayload
	ToolCallEnd   *ToolCallEndPayload
}

// TurnEndPayload carries a turn's terminal status.
type TurnEndPayload struct {
	Status TurnStatus
}

// TextPayload carries one flushed chunk of assistant text or thinking.
type TextPayload struct {
	Text     string
	Thinking bool
}

// ToolCallStartPayload announces a tool call under our own stable id.
type ToolCallStartPayload struct {
	Call        string
	Name        string
	Title       string
	Description string
	Args        map[string]any
}

// ToolCallEndPayload closes a previously started tool call.
type ToolCallEndPayload struct {
	Call string
}

func turnStart(id string, turn string, t int64) Envelope {
	return Envelope{ID: id, Time: t, Turn: turn, Kind: EvTurnStart}
}

func turnEnd(id string, turn string, t int64, status TurnStatus) Envelope {
	return Envelope{ID: id, Time: t, Turn: turn, Kind: EvTurnEnd, TurnEnd: &TurnEndPayload{Status: status}}
}

func textEnv(id string, turn string, t int64, text string, thinking bool) Envelope {
	return Envelope{ID: id, Time: t, Turn: turn, Kind: EvText, Text: &TextPayload{Text: text, Thinking: thinking}}
}

func toolCallStartEnv(id string, turn string, t int64, call, name string, args map[string]any) Envelope {
	return Envelope{
		ID:   id,
		Time: t,
		Turn: turn,
		Kind: EvToolCallStart,
		ToolCallStart: &ToolCallStartPayload{
			Call:        call,
			Name:        name,
			Title:       name,
			Description: name,
			Args:        args,
		},
	}
}

func toolCallEndEnv(id string, turn string, t int64, call string) Envelope {
	return Envelope{ID: id, Time: t, Turn: turn, Kind: EvToolCallEnd, ToolCallEnd: &ToolCallEndPayload{Call: call}}
}
