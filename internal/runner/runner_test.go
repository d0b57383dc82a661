package runner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"happy-acp/internal/acp"
	"happy-acp/internal/turns"
)

// fakeRelay collects pushed envelopes/metadata and records registered
// RPC handlers so tests can invoke them directly.
type fakeRelay struct {
	mu        sync.Mutex
	envelopes []turns.Envelope
	metadata  []acp.Metadata
	abort     func()
	kill      func()
}

func (f *fakeRelay) PushEnvelope(e turns.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes = append(f.envelopes, e)
	return nil
}

func (f *fakeRelay) UpdateMetadata(m acp.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = append(f.metadata, m)
	return nil
}

func (f *fakeRelay) RegisterAbort(fn func()) { f.abort = fn }
func (f *fakeRelay) RegisterKill(fn func())  { f.kill = fn }

func (f *fakeRelay) allEnvelopes() []turns.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]turns.Envelope(nil), f.envelopes...)
}

const handshakeScript = `
read l1
printf '{"jsonrpc":"2.0","id":1,"result":{}}\n'
read l2
printf '{"jsonrpc":"2.0","id":2,"result":{"sessionId":"sess-1"}}\n'
while read l; do :; done
`

func TestRunner_Start_RegistersRPCHandlersAndCompletesHandshake(t *testing.T) {
	fr := &fakeRelay{}
	r := New(Config{Command: "sh", Args: []string{"-c", handshakeScript}, Relay: fr})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, r.Start(ctx))
	require.NotNil(t, fr.abort)
	require.NotNil(t, fr.kill)
}

const promptScript = `
read l1
printf '{"jsonrpc":"2.0","id":1,"result":{}}\n'
read l2
printf '{"jsonrpc":"2.0","id":2,"result":{"sessionId":"sess-2"}}\n'
read l3
printf '{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"sess-2","update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"hi"}}}}\n'
printf '{"jsonrpc":"2.0","id":3,"result":{}}\n'
printf '{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"sess-2","update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"bye"}}}}\n'
while read l; do :; done
`

func TestRunner_SendPrompt_OpensATurnAndForwardsEnvelopes(t *testing.T) {
	fr := &fakeRelay{}
	r := New(Config{Command: "sh", Args: []string{"-c", promptScript}, Relay: fr})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))

	require.NoError(t, r.SendPrompt(PromptRequest{Text: "go"}))

	require.Eventually(t, func() bool {
		for _, e := range fr.allEnvelopes() {
			if e.Kind == turns.EvTurnStart {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunner_Abort_DelegatesToBackendCancel(t *testing.T) {
	fr := &fakeRelay{}
	r := New(Config{Command: "sh", Args: []string{"-c", handshakeScript}, Relay: fr})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))
	r.pushEnvelopes(r.manager.StartTurn())

	require.NoError(t, r.Abort())
	require.Eventually(t, func() bool {
		for _, e := range fr.allEnvelopes() {
			if e.Kind == turns.EvTurnEnd && e.TurnEnd.Status == turns.StatusCancelled {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunner_Kill_DisposesAndRequestsExit(t *testing.T) {
	fr := &fakeRelay{}
	exitCode := -1
	var wg sync.WaitGroup
	wg.Add(1)
	r := New(Config{
		Command: "sh", Args: []string{"-c", handshakeScript}, Relay: fr,
		OnExit: func(code int) { exitCode = code; wg.Done() },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))

	fr.kill()
	wg.Wait()
	require.Equal(t, 0, exitCode)
}

const midSessionExitScript = `
read l1
printf '{"jsonrpc":"2.0","id":1,"result":{}}\n'
read l2
printf '{"jsonrpc":"2.0","id":2,"result":{"sessionId":"sess-3"}}\n'
exit 7
`

func TestRunner_UnexpectedChildExit_SurfacesExitCode(t *testing.T) {
	fr := &fakeRelay{}
	exitCode := -1
	var wg sync.WaitGroup
	wg.Add(1)
	r := New(Config{
		Command: "sh", Args: []string{"-c", midSessionExitScript}, Relay: fr,
		OnExit: func(code int) { exitCode = code; wg.Done() },
	})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))

	wg.Wait()
	require.Equal(t, 7, exitCode)
}

const startupFailureScript = `
read l1
printf '{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"boom"}}\n'
`

func TestRunner_StartupFailure_ReturnsError(t *testing.T) {
	fr := &fakeRelay{}
	r := New(Config{Command: "sh", Args: []string{"-c", startupFailureScript}, Relay: fr})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, r.Start(ctx))
}

func TestRunner_HandleMessage_ProjectsLiveConfigOptionsUpdate(t *testing.T) {
	fr := &fakeRelay{}
	r := New(Config{Command: "sh", Args: []string{"-c", handshakeScript}, Relay: fr})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))

	raw := json.RawMessage(`[{"type":"select","category":"mode","currentValue":"code","options":[{"value":"ask","name":"Ask"},{"value":"code","name":"Code"}]}]`)
	r.handleMessage(acp.Message{Kind: acp.KindEvent, Event: &acp.EventPayload{Name: "config_options_update", Raw: raw}})

	fr.mu.Lock()
	defer fr.mu.Unlock()
	require.Len(t, fr.metadata, 1)
	require.Equal(t, "code", fr.metadata[0].CurrentOperatingModeCode)
	require.Equal(t, []acp.ConfigOption{{Code: "ask", Value: "Ask"}, {Code: "code", Value: "Code"}}, fr.metadata[0].OperatingModes)
}

func TestRunner_HandleMessage_ProjectsLiveModesUpdate(t *testing.T) {
	fr := &fakeRelay{}
	r := New(Config{Command: "sh", Args: []string{"-c", handshakeScript}, Relay: fr})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))

	raw := json.RawMessage(`{"currentModeId":"ask","availableModes":[{"id":"ask","name":"Ask"},{"id":"code","name":"Code"}]}`)
	r.handleMessage(acp.Message{Kind: acp.KindEvent, Event: &acp.EventPayload{Name: "modes_update", Raw: raw}})

	fr.mu.Lock()
	defer fr.mu.Unlock()
	require.Len(t, fr.metadata, 1)
	require.Equal(t, "ask", fr.metadata[0].CurrentOperatingModeCode)
	require.Equal(t, []acp.ConfigOption{{Code: "ask", Value: "Ask"}, {Code: "code", Value: "Code"}}, fr.metadata[0].OperatingModes)
}

func TestRunner_HasCode_MatchesOnlyAdvertisedCodes(t *testing.T) {
	fr := &fakeRelay{}
	r := New(Config{Command: "sh", Args: []string{"-c", handshakeScript}, Relay: fr})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))

	require.False(t, hasCode([]acp.ConfigOption{{Code: "a"}}, "b"))
	require.True(t, hasCode([]acp.ConfigOption{{Code: "a"}, {Code: "b"}}, "b"))
}
