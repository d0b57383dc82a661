package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// BackendConfig configures a Backend's child process and ACP session.
type BackendConfig struct {
	Command    string
	Args       []string
	Env        []string
	CWD        string
	MCPServers []MCPServer

	Hooks             Hooks
	Logger            *slog.Logger
	PermissionHandler PermissionHandler
}

// Backend owns the child process, speaks ACP over its stdio, and exposes
// a narrow interface to callers: a flat Message stream out, plus a
// handful of session-control operations in. Unlike a desktop client
// hardcoded to one binary and wired to a GUI event channel, it takes a
// configurable command/args and a plain emit callback so it can front
// any ACP-speaking agent.
type Backend struct {
	cfg    BackendConfig
	hooks  Hooks
	logger *slog.Logger

	update      *UpdateHandler
	permissions *PermissionBroker
	emit        func(Message)

	mu        sync.Mutex
	cmd       *exec.Cmd
	conn      *Conn
	sessionID string
	metadata  Metadata
	disposed  bool

	exited  chan struct{}
	exitErr error
}

// NewBackend constructs a Backend. emit is called (possibly from multiple
// goroutines: the read loop, timers, and the calling goroutine) for every
// Message the session produces; callers should make it non-blocking or
// fast, e.g. by pushing onto a buffered channel.
func NewBackend(cfg BackendConfig, emit func(Message)) *Backend {
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = DefaultHooks{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{cfg: cfg, hooks: hooks, logger: logger, emit: emit}
	b.update = NewUpdateHandler(hooks, emit)
	b.permissions = NewPermissionBroker(hooks, cfg.PermissionHandler, emit)
	return b
}

// Metadata returns the canonical capability snapshot folded from the
// newSession response. Later config events are not merged into it.
func (b *Backend) Metadata() Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metadata
}

// SessionID returns the ACP session id assigned during StartSession.
func (b *Backend) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// StartSession spawns the child, connects framed JSON-RPC, and runs the
// initialize+newSession handshake with retry. On success it returns the
// ACP session id and, if initialPrompt is non-empty, also issues the
// first prompt.
func (b *Backend) StartSession(ctx context.Context, initialPrompt string) (string, error) {
	b.emit(statusMsg(StatusStarting, ""))

	cmd := exec.CommandContext(ctx, b.cfg.Command, b.cfg.Args...)
	if len(b.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), b.cfg.Env...)
	}
	cmd.Dir = b.cfg.CWD

	stderr, err := cmd.StderrPipe()
	if err != nil {
		b.emit(statusMsg(StatusError, err.Error()))
		return "", fmt.Errorf("acp: stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		b.emit(statusMsg(StatusError, err.Error()))
		return "", fmt.Errorf("acp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.emit(statusMsg(StatusError, err.Error()))
		return "", fmt.Errorf("acp: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		b.emit(statusMsg(StatusError, err.Error()))
		return "", fmt.Errorf("acp: start %s: %w", b.cfg.Command, err)
	}

	b.mu.Lock()
	b.cmd = cmd
	b.exited = make(chan struct{})
	b.mu.Unlock()

	go b.watchExit(cmd)
	go b.drainStderr(stderr)

	conn := NewConn(stdin, stdout, b.hooks, b.logger)
	conn.OnMethod(b.handleMethod)
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	if err := b.runHandshake(ctx); err != nil {
		b.emit(statusMsg(StatusError, err.Error()))
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return "", err
	}

	b.emit(statusMsg(StatusIdle, ""))
	go b.watchUnexpectedExit()

	if initialPrompt != "" {
		if err := b.SendPrompt(initialPrompt); err != nil {
			return b.SessionID(), err
		}
	}
	return b.SessionID(), nil
}

// watchUnexpectedExit surfaces a status=error, carrying the child's exit
// code, if the process dies on its own after the handshake rather than
// through a caller-initiated Dispose. Dispose sets disposed before it
// ever signals the process, so by the time exited closes there the flag
// already reads true and this is a no-op.
func (b *Backend) watchUnexpectedExit() {
	<-b.exited
	b.mu.Lock()
	disposed := b.disposed
	err := b.exitErr
	b.mu.Unlock()
	if disposed {
		return
	}
	code := exitCodeFrom(err)
	detail := "child exited unexpectedly"
	if err != nil {
		detail = fmt.Sprintf("child exited unexpectedly: %v", err)
	}
	b.emit(statusErrorExitMsg(detail, code))
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func (b *Backend) watchExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	b.mu.Lock()
	b.exitErr = err
	exited := b.exited
	b.mu.Unlock()
	close(exited)
}

func (b *Backend) drainStderr(r io.Reader) {
	buf := make([]byte, 0, 4096)
	scratch := make([]byte, 4096)
	for {
		n, err := r.Read(scratch)
		if n > 0 {
			buf = append(buf, scratch[:n]...)
			for {
				idx := indexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := string(buf[:idx])
				buf = buf[idx+1:]
				if msg := b.hooks.HandleStderr(line); msg.Kind != "" {
					b.emit(msg)
				} else {
					b.logger.Debug("acp: child stderr", "line", line)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

var backendBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

const maxHandshakeAttempts = 3
const backoffClamp = 5 * time.Second

func (b *Backend) runHandshake(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < maxHandshakeAttempts; attempt++ {
		err := b.handshake(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableHandshakeErr(err) {
			return lastErr
		}
		if attempt == maxHandshakeAttempts-1 {
			break
		}
		delay := backendBackoff[attempt]
		if delay > backoffClamp {
			delay = backoffClamp
		}
		select {
		case <-b.exited:
			b.mu.Lock()
			exitErr := b.exitErr
			b.mu.Unlock()
			return fmt.Errorf("acp: child exited during handshake: %w", exitErr)
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (b *Backend) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, b.hooks.GetInitTimeout())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if _, err := b.conn.Send("initialize", InitializeParams{
			ProtocolVersion: 1,
			ClientInfo:      ClientInfo{Name: "happy-acp"},
			ClientCapabilities: ClientCapabilities{
				FS:       FSCapabilities{ReadTextFile: false, WriteTextFile: false},
				Terminal: false,
			},
		}); err != nil {
			errCh <- err
			return
		}

		result, err := b.conn.Send("newSession", NewSessionParams{CWD: b.cfg.CWD, MCPServers: b.cfg.MCPServers})
		if err != nil {
			errCh <- err
			return
		}
		var res NewSessionResult
		if err := json.Unmarshal(result, &res); err != nil {
			errCh <- fmt.Errorf("acp: unmarshal session/new result: %w", err)
			return
		}

		b.mu.Lock()
		b.sessionID = res.SessionID
		b.metadata = Merge(b.metadata, ConfigSnapshot{ConfigOptions: res.ConfigOptions, Modes: res.Modes, Models: res.Models})
		b.mu.Unlock()
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-hctx.Done():
		return fmt.Errorf("acp: handshake timed out after %s", b.hooks.GetInitTimeout())
	case <-b.exited:
		b.mu.Lock()
		exitErr := b.exitErr
		b.mu.Unlock()
		return fmt.Errorf("acp: child exited during handshake: %w", exitErr)
	}
}

// isRetryableHandshakeErr reports whether an error from spawning or
// talking to the child is worth retrying. Spawn failures and broken-pipe
// writes mean the child is gone or unusable; nothing but a fresh process
// would help, and StartSession doesn't respawn.
func isRetryableHandshakeErr(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return false
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
		return false
	}
	return true
}

// SendPrompt resets per-prompt state and issues the ACP "prompt" RPC.
func (b *Backend) SendPrompt(text string) error {
	b.update.ResetPromptState()
	b.emit(statusMsg(StatusRunning, ""))

	_, err := b.conn.Send("prompt", PromptParams{
		SessionID: b.SessionID(),
		Prompt:    []PromptContentItem{{Type: "text", Text: text}},
	})
	if err != nil {
		b.emit(statusMsg(StatusError, promptErrorDetail(err)))
		return err
	}
	return nil
}

func promptErrorDetail(err error) string {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return fmt.Sprintf("%s (code %d)", protoErr.Message, protoErr.Code)
	}
	return err.Error()
}

// Cancel issues the ACP "cancel" notification and emits a stopped status.
func (b *Backend) Cancel() error {
	err := b.conn.Notify("cancel", CancelParams{SessionID: b.SessionID()})
	b.emit(statusMsg(StatusStopped, ""))
	return err
}

// SetSessionMode is best-effort: on success it synthesizes a
// current_mode_update event so downstream projections see the change
// even when the agent doesn't echo one back.
func (b *Backend) SetSessionMode(modeID string) bool {
	_, err := b.conn.Send("setSessionMode", SetSessionModeParams{SessionID: b.SessionID(), ModeID: modeID})
	if err != nil {
		return false
	}
	b.emit(eventMsg("current_mode_update", map[string]any{"currentModeId": modeID}))
	return true
}

// SetSessionModel is best-effort; ACP's setSessionModel is unstable.
func (b *Backend) SetSessionModel(modelID string) bool {
	_, err := b.conn.Send("setSessionModel", SetSessionModelParams{SessionID: b.SessionID(), ModelID: modelID})
	if err != nil {
		return false
	}
	b.emit(eventMsg("config_options_update", map[string]any{"category": "model", "currentValue": modelID}))
	return true
}

// SetSessionConfigOption is best-effort.
func (b *Backend) SetSessionConfigOption(configID, value string) bool {
	_, err := b.conn.Send("setSessionConfigOption", SetSessionConfigOptionParams{
		SessionID: b.SessionID(),
		ConfigID:  configID,
		Value:     value,
	})
	if err != nil {
		return false
	}
	b.emit(eventMsg("config_options_update", map[string]any{"configId": configID, "currentValue": value}))
	return true
}

// RespondToPermission only emits a permission-response Message; ACP
// permissions are synchronous and already answered from inside
// handleMethod's requestPermission case via PermissionBroker.
func (b *Backend) RespondToPermission(id string, approved bool) {
	b.emit(permissionResponseMsg(id, approved))
}

// Dispose is a best-effort, idempotent teardown: cancel, SIGTERM, a 1s
// grace period, then SIGKILL.
func (b *Backend) Dispose() error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.disposed = true
	conn := b.conn
	cmd := b.cmd
	exited := b.exited
	b.mu.Unlock()

	b.update.Dispose()

	if conn != nil {
		_ = conn.Notify("cancel", CancelParams{SessionID: b.SessionID()})
	}

	if cmd != nil && cmd.Process != nil && exited != nil {
		cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-exited:
		case <-time.After(1 * time.Second):
			cmd.Process.Kill()
			<-exited
		}
	}

	if conn != nil {
		b.logger.Debug("acp: dropped stdout lines", "count", conn.DroppedLines())
		// cmd.Wait has already closed stdin once the child exited.
		if err := conn.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
	}
	return nil
}

func (b *Backend) handleMethod(method string, params json.RawMessage, id *int64) {
	switch method {
	case "session/update":
		var p SessionUpdateParams
		if err := json.Unmarshal(params, &p); err != nil {
			b.logger.Warn("acp: malformed session/update", "error", err)
			return
		}
		for _, msg := range b.update.Handle(p.Update) {
			b.emit(msg)
		}

	case "requestPermission":
		var p RequestPermissionParams
		if err := json.Unmarshal(params, &p); err != nil {
			b.logger.Warn("acp: malformed requestPermission", "error", err)
			if id != nil {
				b.conn.RespondError(id, -32700, "malformed requestPermission params")
			}
			return
		}
		result := b.permissions.Handle(p)
		resultJSON, err := json.Marshal(result)
		if err != nil {
			b.logger.Warn("acp: marshal requestPermission result", "error", err)
			return
		}
		if id != nil {
			b.conn.Respond(id, resultJSON)
		}

	default:
		b.logger.Debug("acp: unknown inbound method", "method", method)
	}
}
