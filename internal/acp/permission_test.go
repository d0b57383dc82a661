package acp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func stdOptions() []PermissionOption {
	return []PermissionOption{
		{OptionID: "opt-once", Name: "Allow once", Kind: "proceed_once"},
		{OptionID: "opt-always", Name: "Allow always", Kind: "proceed_always"},
		{OptionID: "opt-cancel", Name: "Deny", Kind: "cancel"},
	}
}

func TestPermissionBroker_ApprovedSelectsProceedOnce(t *testing.T) {
	var emitted []Message
	broker := NewPermissionBroker(DefaultHooks{}, func(req RequestPermissionParams) (PermissionDecision, error) {
		return PermissionApproved, nil
	}, func(m Message) { emitted = append(emitted, m) })

	res := broker.Handle(RequestPermissionParams{
		ToolCall: PermissionToolCall{ID: "call-1", ToolName: "Write"},
		Options:  stdOptions(),
	})

	require.Equal(t, "selected", res.Outcome.Outcome)
	require.Equal(t, "opt-once", res.Outcome.OptionID)
	require.Len(t, emitted, 3)
	require.Equal(t, KindPermissionRequest, emitted[0].Kind)
	require.Equal(t, KindPermissionResponse, emitted[1].Kind)
	require.True(t, emitted[1].PermissionResponse.Approved)
	require.Equal(t, KindToolResult, emitted[2].Kind)
}

func TestPermissionBroker_RequestForwardsNormalizedOptions(t *testing.T) {
	var emitted []Message
	broker := NewPermissionBroker(DefaultHooks{}, nil, func(m Message) { emitted = append(emitted, m) })

	broker.Handle(RequestPermissionParams{
		ToolCall: PermissionToolCall{ID: "call-1", ToolName: "Write"},
		Options:  stdOptions(),
	})

	options, ok := emitted[0].PermissionRequest.Payload["options"].([]map[string]any)
	require.True(t, ok)
	require.Equal(t, []map[string]any{
		{"id": "opt-once", "name": "Allow once", "kind": "proceed_once"},
		{"id": "opt-always", "name": "Allow always", "kind": "proceed_always"},
		{"id": "opt-cancel", "name": "Deny", "kind": "cancel"},
	}, options)
}

func TestPermissionBroker_ApprovedForSessionSelectsProceedAlways(t *testing.T) {
	broker := NewPermissionBroker(DefaultHooks{}, func(req RequestPermissionParams) (PermissionDecision, error) {
		return PermissionApprovedForSession, nil
	}, func(Message) {})

	res := broker.Handle(RequestPermissionParams{
		ToolCall: PermissionToolCall{ID: "call-2"},
		Options:  stdOptions(),
	})
	require.Equal(t, "opt-always", res.Outcome.OptionID)
}

func TestPermissionBroker_ApprovedForSessionEmitsRequestThenSyntheticResult(t *testing.T) {
	var emitted []Message
	broker := NewPermissionBroker(DefaultHooks{}, func(req RequestPermissionParams) (PermissionDecision, error) {
		return PermissionApprovedForSession, nil
	}, func(m Message) { emitted = append(emitted, m) })

	res := broker.Handle(RequestPermissionParams{
		ToolCall: PermissionToolCall{ID: "t1", Kind: "Bash"},
		Options: []PermissionOption{
			{OptionID: "proceed_once", Kind: "proceed_once"},
			{OptionID: "proceed_always", Kind: "proceed_always"},
			{OptionID: "cancel", Kind: "cancel"},
		},
	})

	require.Equal(t, "proceed_always", res.Outcome.OptionID)
	require.Equal(t, KindPermissionRequest, emitted[0].Kind)
	require.Equal(t, "t1", emitted[0].PermissionRequest.ID)
	last := emitted[len(emitted)-1]
	require.Equal(t, KindToolResult, last.Kind)
	require.Equal(t, "t1", last.ToolResult.CallID)
	require.Equal(t, "approved", last.ToolResult.Result["status"])
	require.Equal(t, "approved_for_session", last.ToolResult.Result["decision"])
}

func TestPermissionBroker_DeniedSelectsCancel(t *testing.T) {
	broker := NewPermissionBroker(DefaultHooks{}, func(req RequestPermissionParams) (PermissionDecision, error) {
		return PermissionDenied, nil
	}, func(Message) {})

	res := broker.Handle(RequestPermissionParams{
		ToolCall: PermissionToolCall{ID: "call-3"},
		Options:  stdOptions(),
	})
	require.Equal(t, "opt-cancel", res.Outcome.OptionID)
}

func TestPermissionBroker_HandlerErrorFallsBackToCancel(t *testing.T) {
	broker := NewPermissionBroker(DefaultHooks{}, func(req RequestPermissionParams) (PermissionDecision, error) {
		return "", errors.New("handler exploded")
	}, func(Message) {})

	res := broker.Handle(RequestPermissionParams{
		ToolCall: PermissionToolCall{ID: "call-4"},
		Options:  stdOptions(),
	})
	require.Equal(t, "opt-cancel", res.Outcome.OptionID)
}

func TestPermissionBroker_NoHandlerAutoSelectsProceedOnce(t *testing.T) {
	broker := NewPermissionBroker(DefaultHooks{}, nil, func(Message) {})

	res := broker.Handle(RequestPermissionParams{
		ToolCall: PermissionToolCall{ID: "call-5"},
		Options:  stdOptions(),
	})
	require.Equal(t, "opt-once", res.Outcome.OptionID)
}

func TestPermissionBroker_MissingIDGetsSynthesized(t *testing.T) {
	var emitted []Message
	broker := NewPermissionBroker(DefaultHooks{}, nil, func(m Message) { emitted = append(emitted, m) })

	broker.Handle(RequestPermissionParams{ToolCall: PermissionToolCall{}, Options: stdOptions()})

	require.NotEmpty(t, emitted[0].PermissionRequest.ID)
}

func TestPermissionBroker_NoMatchingKindFallsBackToFirstOption(t *testing.T) {
	broker := NewPermissionBroker(DefaultHooks{}, func(req RequestPermissionParams) (PermissionDecision, error) {
		return PermissionApprovedForSession, nil
	}, func(Message) {})

	res := broker.Handle(RequestPermissionParams{
		ToolCall: PermissionToolCall{ID: "call-6"},
		Options:  []PermissionOption{{OptionID: "only", Kind: "proceed_once"}},
	})
	require.Equal(t, "only", res.Outcome.OptionID)
}

type determineNameHooks struct {
	DefaultHooks
}

func (determineNameHooks) DetermineToolName(kind, id string, input map[string]any) string {
	return "resolved-tool"
}

func TestIdentifyTool_FallsBackToDetermineToolName(t *testing.T) {
	name := identifyTool(determineNameHooks{}, PermissionToolCall{Kind: "other"})
	require.Equal(t, "resolved-tool", name)
}
