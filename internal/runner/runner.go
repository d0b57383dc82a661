// Package runner wires a Backend, a session manager, a local tool
// bridge, and a relay sink together into one running ACP session. It
// holds no logic of its own beyond the fixed startup order and message
// routing described for this component; everything interesting happens
// in the packages it assembles.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"happy-acp/internal/acp"
	"happy-acp/internal/bridge"
	"happy-acp/internal/relay"
	"happy-acp/internal/turns"
)

// RelaySession is the external collaborator a Runner pushes envelopes
// and metadata through, and that delivers inbound RPCs back to it. The
// concrete relay transport lives outside this module.
type RelaySession interface {
	relay.Sink
	RegisterAbort(func())
	RegisterKill(func())
}

// PromptRequest is one inbound user message, optionally carrying a
// config selection to apply before the prompt is sent.
type PromptRequest struct {
	Text           string
	PermissionMode string
	Model          string
}

// Config configures a Runner's child process and collaborators.
type Config struct {
	Command string
	Args    []string
	Env     []string
	CWD     string

	Hooks             acp.Hooks
	Logger            *slog.Logger
	PermissionHandler acp.PermissionHandler

	Relay RelaySession

	// OnExit is invoked at most once, when the runner decides the
	// process should terminate (a kill RPC, a terminal backend status
	// surfacing during startup, or the child exiting on its own after
	// startup). code follows the CLI's exit code convention.
	OnExit func(code int)
}

// Runner is stateless glue: it owns no business logic, only the fixed
// wiring between a Backend, a turns.Manager, a bridge.Server, and a
// RelaySession.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	bridge  *bridge.Server
	backend *acp.Backend
	manager *turns.Manager

	mu          sync.Mutex
	startupDone bool
	exited      bool
}

// New builds a Runner. Call Start to actually spawn the child.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Start performs the fixed startup sequence: register relay RPC
// handlers, start the tool bridge, construct the Backend and session
// manager, and run the ACP handshake. It returns once the handshake
// completes (or fails).
func (r *Runner) Start(ctx context.Context) error {
	r.cfg.Relay.RegisterAbort(func() { r.Abort() })
	r.cfg.Relay.RegisterKill(func() { r.Kill() })

	r.bridge = bridge.NewServer(func(q bridge.Question) {
		r.logger.Info("runner: ask_user_question", "requestId", q.RequestID, "question", q.Text)
	})
	bridgeURL, err := r.bridge.Start()
	if err != nil {
		return fmt.Errorf("runner: start bridge: %w", err)
	}

	env := append(append([]string{}, r.cfg.Env...), "HAPPY_ACP_BRIDGE_URL="+bridgeURL)
	mcpServers := []acp.MCPServer{{Name: "happy-acp-bridge", Type: "sse", URL: bridgeURL}}

	r.backend = acp.NewBackend(acp.BackendConfig{
		Command:           r.cfg.Command,
		Args:              r.cfg.Args,
		Env:               env,
		CWD:               r.cfg.CWD,
		MCPServers:        mcpServers,
		Hooks:             r.cfg.Hooks,
		Logger:            r.logger,
		PermissionHandler: r.cfg.PermissionHandler,
	}, r.handleMessage)

	r.manager = turns.NewManager()

	if _, err := r.backend.StartSession(ctx, ""); err != nil {
		return fmt.Errorf("runner: start session: %w", err)
	}

	r.mu.Lock()
	r.startupDone = true
	r.mu.Unlock()
	return nil
}

// SendPrompt validates any requested config selections against the
// Backend's capability snapshot from the handshake, applies matching ones
// through SetSessionConfigOption, then issues the prompt and opens a new
// turn. Config events received after the handshake are not part of that
// snapshot, and a selection with no matching code is ignored.
func (r *Runner) SendPrompt(req PromptRequest) error {
	metadata := r.backend.Metadata()

	if req.PermissionMode != "" && hasCode(metadata.OperatingModes, req.PermissionMode) {
		r.backend.SetSessionConfigOption("mode", req.PermissionMode)
	}
	if req.Model != "" && hasCode(metadata.Models, req.Model) {
		r.backend.SetSessionConfigOption("model", req.Model)
	}

	if err := r.backend.SendPrompt(req.Text); err != nil {
		return err
	}
	r.pushEnvelopes(r.manager.StartTurn())
	return nil
}

func hasCode(options []acp.ConfigOption, code string) bool {
	for _, o := range options {
		if o.Code == code {
			return true
		}
	}
	return false
}

// Abort issues an ACP cancel; it does not terminate the child.
func (r *Runner) Abort() error {
	return r.backend.Cancel()
}

// Kill tears the child down and requests process exit.
func (r *Runner) Kill() {
	r.Close()
	r.requestExit(0)
}

// Close disposes the backend and stops the tool bridge. Safe to call
// more than once.
func (r *Runner) Close() {
	if r.backend != nil {
		r.backend.Dispose()
	}
	if r.bridge != nil {
		r.bridge.Stop()
	}
}

func (r *Runner) requestExit(code int) {
	r.mu.Lock()
	if r.exited {
		r.mu.Unlock()
		return
	}
	r.exited = true
	r.mu.Unlock()
	if r.cfg.OnExit != nil {
		r.cfg.OnExit(code)
	}
}

// handleMessage is the subscription step: every agent-message a Backend
// emits passes through here. Config-surface events are projected and
// pushed to the relay as metadata; everything else is mapped through
// the turn manager and forwarded as envelopes. Status transitions close
// out the active turn and, during startup, can force the runner to
// exit.
func (r *Runner) handleMessage(msg acp.Message) {
	if msg.Kind == acp.KindEvent && isConfigEvent(msg.Event.Name) {
		r.projectConfig(msg.Event)
	}
	if msg.Kind == acp.KindStatus {
		r.handleStatus(msg.Status)
	}
	r.pushEnvelopes(r.manager.MapMessage(msg))
}

func isConfigEvent(name string) bool {
	switch name {
	case "config_options_update", "config_option_update", "modes_update", "models_update", "current_mode_update":
		return true
	}
	return false
}

func (r *Runner) projectConfig(p *acp.EventPayload) {
	snapshot := acp.ConfigSnapshot{}
	switch p.Name {
	case "config_options_update":
		snapshot.ConfigOptions = p.Raw
	case "modes_update":
		snapshot.Modes = acp.ExtractModeState(p.Raw)
	case "models_update":
		snapshot.Models = acp.ExtractModelState(p.Raw)
	case "current_mode_update":
		if name, _ := p.Payload["currentModeId"].(string); name != "" {
			snapshot.CurrentModeID = name
		}
	}
	metadata := acp.Merge(r.backend.Metadata(), snapshot)
	if err := r.cfg.Relay.UpdateMetadata(metadata); err != nil {
		r.logger.Warn("runner: push metadata failed", "error", err)
	}
}

func (r *Runner) handleStatus(p *acp.StatusPayload) {
	if p == nil {
		return
	}
	switch p.Status {
	case acp.StatusIdle:
		r.pushEnvelopes(r.manager.EndTurn(turns.StatusCompleted))
	case acp.StatusStopped:
		r.pushEnvelopes(r.manager.EndTurn(turns.StatusCancelled))
		r.failStartup()
	case acp.StatusError:
		r.pushEnvelopes(r.manager.EndTurn(turns.StatusFailed))
		r.failStartup()
		r.handleUnexpectedExit(p)
	}
}

// failStartup implements step 8: a terminal status seen before the
// handshake has completed forces the runner to tear everything down
// and exit, rather than leaving a half-started session around.
func (r *Runner) failStartup() {
	r.mu.Lock()
	startupDone := r.startupDone
	r.mu.Unlock()
	if startupDone {
		return
	}
	r.Close()
	r.requestExit(1)
}

// handleUnexpectedExit surfaces the child's own exit code once the
// session is already running: a status=error carrying ExitCode means
// the process died on its own, not through Kill, so the runner tears
// down and exits with that same code instead of hanging.
func (r *Runner) handleUnexpectedExit(p *acp.StatusPayload) {
	if p.ExitCode == nil {
		return
	}
	r.mu.Lock()
	startupDone := r.startupDone
	r.mu.Unlock()
	if !startupDone {
		return
	}
	r.Close()
	r.requestExit(*p.ExitCode)
}

func (r *Runner) pushEnvelopes(envs []turns.Envelope) {
	for _, e := range envs {
		if err := r.cfg.Relay.PushEnvelope(e); err != nil {
			r.logger.Warn("runner: push envelope failed", "error", err)
		}
	}
}
