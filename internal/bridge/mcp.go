// Package bridge runs a local MCP server the child agent talks to for
// tools that need to cross back into this process — currently just
// asking the human operator a question and waiting for an answer.
package bridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Question is one ask_user_question call waiting on an answer.
type Question struct {
	RequestID string   `json:"requestId"`
	Text      string   `json:"question"`
	Options   []Option `json:"options,omitempty"`
}

// Option is one suggested answer for a Question.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Answer resolves a pending Question by RequestID.
type Answer struct {
	RequestID string `json:"requestId"`
	Text      string `json:"answer"`
}

// Server is the local bridge: one MCP tool over an ephemeral
// localhost HTTP listener, plus a hook for whoever owns the session to
// observe outstanding questions and supply answers.
type Server struct {
	mcpServer  *server.MCPServer
	httpServer *http.Server
	listener   net.Listener

	onQuestion func(Question)

	mu      sync.Mutex
	pending map[string]chan Answer
	nextID  int
}

// NewServer builds a Server. onQuestion is invoked synchronously from
// inside the MCP tool handler whenever the child asks a question; it
// should forward the Question onward (e.g. as a session envelope) and
// return promptly — the tool handler then waits until Resolve delivers
// the Answer or the call's context ends.
func NewServer(onQuestion func(Question)) *Server {
	s := &Server{
		onQuestion: onQuestion,
		pending:    make(map[string]chan Answer),
	}

	s.mcpServer = server.NewMCPServer(
		"happy-acp-bridge",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	askTool := mcp.NewTool("ask_user_question",
		mcp.WithDescription(`Ask the user a question and wait for their response.

Use this when you need clarification or input before continuing.

Args:
  - question (string, required): the question to ask
  - options (array, optional): suggested answers, each {label, description}

Returns: the user's text response.`),
		mcp.WithString("question", mcp.Required(), mcp.Description("the question to ask")),
		mcp.WithArray("options", mcp.Description("optional suggested answers")),
	)
	s.mcpServer.AddTool(askTool, s.handleAskUserQuestion)

	return s
}

func (s *Server) handleAskUserQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, ok := req.Params.Arguments["question"].(string)
	if !ok || question == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	var options []Option
	if raw, ok := req.Params.Arguments["options"].([]interface{}); ok {
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			opt := Option{}
			if l, ok := m["label"].(string); ok {
				opt.Label = l
			}
			if d, ok := m["description"].(string); ok {
				opt.Description = d
			}
			if opt.Label != "" {
				options = append(options, opt)
			}
		}
	}

	id, ch := s.register()
	s.onQuestion(Question{RequestID: id, Text: question, Options: options})

	select {
	case answer := <-ch:
		return mcp.NewToolResultText(answer.Text), nil
	case <-ctx.Done():
		s.forget(id)
		return mcp.NewToolResultError("question cancelled"), nil
	}
}

func (s *Server) register() (string, chan Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("uq-%d", s.nextID)
	ch := make(chan Answer, 1)
	s.pending[id] = ch
	return id, ch
}

func (s *Server) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// Resolve delivers an Answer to the Question with the matching
// RequestID. It is a no-op if that id is unknown (already answered,
// cancelled, or never issued by this Server).
func (s *Server) Resolve(answer Answer) {
	s.mu.Lock()
	ch, ok := s.pending[answer.RequestID]
	if ok {
		delete(s.pending, answer.RequestID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- answer:
	default:
	}
}

// Start binds an ephemeral localhost port and serves the MCP endpoint,
// returning the URL the child should be pointed at.
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	addr := listener.Addr().(*net.TCPAddr)
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", addr.Port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer)
	mux.Handle("/message", sseServer)
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		_ = s.httpServer.Serve(listener)
	}()

	return baseURL + "/sse", nil
}

// Stop shuts down the HTTP listener. Safe to call on a Server that was
// never started.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(context.Background())
}

// MCPServerEntry builds the newSession mcpServers array entry pointing
// the child at this bridge's SSE endpoint.
func MCPServerEntry(url string) map[string]any {
	return map[string]any{
		"name": "happy-acp-bridge",
		"type": "sse",
		"url":  url,
	}
}
