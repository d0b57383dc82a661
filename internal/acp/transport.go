package acp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Conn speaks newline-delimited JSON-RPC 2.0 over a child process's stdio,
// with a stdout line filter hook, dropped-line accounting, and a larger
// scan buffer for tool-call payloads that carry whole file contents.
type Conn struct {
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	hooks  Hooks
	logger *slog.Logger

	mu        sync.Mutex
	nextID    int64
	callbacks map[int64]chan json.RawMessage
	errors    map[int64]chan *RPCError

	handler func(method string, params json.RawMessage, id *int64)

	dropped   uint64
	done      chan struct{}
	closeOnce sync.Once
}

const (
	initialScanBuffer = 64 * 1024
	maxScanBuffer     = 16 * 1024 * 1024
)

// NewConn starts a Conn's read loop over stdin/stdout pipes. hooks and
// logger may be nil; a nil hooks falls back to DefaultHooks{} and a nil
// logger falls back to slog.Default().
func NewConn(stdin io.WriteCloser, stdout io.Reader, hooks Hooks, logger *slog.Logger) *Conn {
	if hooks == nil {
		hooks = DefaultHooks{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)

	c := &Conn{
		stdin:     stdin,
		stdout:    scanner,
		hooks:     hooks,
		logger:    logger,
		callbacks: make(map[int64]chan json.RawMessage),
		errors:    make(map[int64]chan *RPCError),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// OnMethod registers the handler invoked for incoming requests and
// notifications. Must be called before traffic starts flowing to avoid a
// data race with readLoop; Backend calls it immediately after NewConn.
func (c *Conn) OnMethod(handler func(method string, params json.RawMessage, id *int64)) {
	c.handler = handler
}

// DroppedLines reports how many non-JSON or filtered-out stdout lines
// have been discarded, for diagnostics.
func (c *Conn) DroppedLines() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Conn) readLoop() {
	for c.stdout.Scan() {
		line := c.stdout.Text()
		if filtered := c.hooks.FilterStdoutLine(line); filtered == nil {
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
			continue
		} else {
			line = *filtered
		}

		if line == "" || line[0] != '{' {
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
			continue
		}

		var msg RPCMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			c.logger.Debug("acp: dropping unparsable stdout line", "error", err)
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
			continue
		}

		c.dispatch(msg)
	}
	// EOF or scan error: flush every pending caller with an error rather
	// than leaving them blocked forever.
	c.mu.Lock()
	for id, ch := range c.callbacks {
		close(ch)
		delete(c.callbacks, id)
		delete(c.errors, id)
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) dispatch(msg RPCMessage) {
	if msg.Method != "" {
		// Requests carry both a Method and an ID; check Method first so
		// inbound requests and notifications share a path.
		if c.handler != nil {
			c.handler(msg.Method, msg.Params, msg.ID)
		}
		return
	}
	if msg.ID == nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.callbacks[*msg.ID]
	errCh := c.errors[*msg.ID]
	if ok {
		delete(c.callbacks, *msg.ID)
		delete(c.errors, *msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil && errCh != nil {
		errCh <- msg.Error
	}
	ch <- msg.Result
}

// Send issues a request and blocks for its response.
func (c *Conn) Send(method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan json.RawMessage, 1)
	errCh := make(chan *RPCError, 1)
	c.callbacks[id] = ch
	c.errors[id] = errCh
	c.mu.Unlock()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		c.mu.Lock()
		delete(c.callbacks, id)
		delete(c.errors, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("acp: marshal params for %s: %w", method, err)
	}

	msg := RPCMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: paramsJSON}
	data, err := json.Marshal(msg)
	if err != nil {
		c.mu.Lock()
		delete(c.callbacks, id)
		delete(c.errors, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("acp: marshal request %s: %w", method, err)
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		c.mu.Lock()
		delete(c.callbacks, id)
		delete(c.errors, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("acp: write request %s: %w", method, err)
	}

	select {
	case result, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("acp: connection closed while waiting for %s", method)
		}
		select {
		case rpcErr := <-errCh:
			if rpcErr != nil {
				return nil, &ProtocolError{Method: method, Code: rpcErr.Code, Message: rpcErr.Message}
			}
		default:
		}
		return result, nil
	case <-c.done:
		return nil, fmt.Errorf("acp: connection closed while waiting for %s", method)
	}
}

// Notify sends a notification; no response is expected.
func (c *Conn) Notify(method string, params any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("acp: marshal params for %s: %w", method, err)
	}
	msg := RPCMessage{JSONRPC: "2.0", Method: method, Params: paramsJSON}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("acp: marshal notification %s: %w", method, err)
	}
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

// Respond answers an incoming request by id.
func (c *Conn) Respond(id *int64, result json.RawMessage) error {
	msg := RPCMessage{JSONRPC: "2.0", ID: id, Result: result}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("acp: marshal response: %w", err)
	}
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

// RespondError answers an incoming request with a JSON-RPC error object.
func (c *Conn) RespondError(id *int64, code int, message string) error {
	msg := RPCMessage{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("acp: marshal error response: %w", err)
	}
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

// Close shuts down the connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.stdin.Close()
}
