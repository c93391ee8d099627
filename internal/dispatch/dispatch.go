// Package dispatch implements the tool surface: a JSON-RPC 2.0 dispatcher
// exposing five typed tool families to a session-bound agent, with an SSE
// broadcast channel for server-pushed events. Each family's arguments are
// decoded into a struct whose field set is fixed per family, so an unknown
// action or a malformed payload fails at the boundary.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/executor"
	"github.com/agentgate/agentgate/internal/memento"
	"github.com/agentgate/agentgate/internal/messaging"
	"github.com/agentgate/agentgate/internal/queue"
	"github.com/agentgate/agentgate/internal/resolver"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/rs/zerolog/log"
)

// ── JSON-RPC 2.0 envelope ───────────────────────────────────

type Request struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

type Response struct {
	Jsonrpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ToolCallParams is the params shape of a "tools/call" request.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolContent is one content block of a tool's reply.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the result shape of a successful "tools/call".
//
// Errors surfaced at the tool layer (rather than the JSON-RPC layer) wrap
// as {via: "agentgate", error}, with IsError set so tool clients can tell a
// textual error apart from upstream content.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

func errorResult(err error) *ToolResult {
	kind := "internal"
	message := err.Error()
	if ae, ok := apierr.As(err); ok {
		kind = string(ae.Kind)
		message = ae.Message
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"via": "agentgate",
		"error": map[string]string{
			"kind":    kind,
			"message": message,
		},
	})
	return &ToolResult{Content: []ToolContent{{Type: "text", Text: string(payload)}}, IsError: true}
}

func okResult(v interface{}) *ToolResult {
	payload, err := json.Marshal(v)
	if err != nil {
		return errorResult(err)
	}
	return &ToolResult{Content: []ToolContent{{Type: "text", Text: string(payload)}}}
}

// ── Dispatcher ───────────────────────────────────────────────

type Dispatcher struct {
	agents    store.AgentStore
	resolver  *resolver.Resolver
	queue     *queue.Engine
	messaging *messaging.Engine
	memento   *memento.Engine
	reader    *executor.Reader

	subsMu sync.RWMutex
	subs   map[string][]chan Response
}

func New(agents store.AgentStore, r *resolver.Resolver, q *queue.Engine, msg *messaging.Engine, mem *memento.Engine, reader *executor.Reader) *Dispatcher {
	return &Dispatcher{
		agents:    agents,
		resolver:  r,
		queue:     q,
		messaging: msg,
		memento:   mem,
		reader:    reader,
		subs:      make(map[string][]chan Response),
	}
}

// Handle processes one JSON-RPC message bound to the agent behind
// sessionID, which the caller has already resolved (creating or lazily
// reconstructing it) via internal/sessions.
func (d *Dispatcher) Handle(ctx context.Context, agentName string, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return d.handleInitialize(req)
	case "notifications/initialized":
		log.Debug().Str("agent", agentName).Msg("dispatch: client initialized")
		return nil
	case "ping":
		return &Response{Jsonrpc: "2.0", Result: map[string]string{"status": "pong"}, ID: req.ID}
	case "tools/list":
		return d.handleToolsList(req)
	case "tools/call":
		return d.handleToolsCall(ctx, agentName, req)
	default:
		return &Response{
			Jsonrpc: "2.0",
			Error:   &RPCError{Code: -32601, Message: "Method not found", Data: req.Method},
			ID:      req.ID,
		}
	}
}

func (d *Dispatcher) handleInitialize(req *Request) *Response {
	return &Response{
		Jsonrpc: "2.0",
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]interface{}{"tools": map[string]bool{"listChanged": true}},
			"serverInfo":      map[string]string{"name": "agentgate", "version": "1.0.0"},
		},
		ID: req.ID,
	}
}

func (d *Dispatcher) handleToolsList(req *Request) *Response {
	tools := []map[string]interface{}{
		{"name": "queue", "description": "list, status, withdraw, warn and get_warnings on the write-approval queue"},
		{"name": "messages", "description": "direct and broadcast agent messaging"},
		{"name": "mementos", "description": "save, search and recall keyword-indexed notes"},
		{"name": "services", "description": "whoami, list and list_detail over configured services"},
	}
	for _, cat := range categoryNames() {
		access := "read/write"
		if cat == "search" {
			access = "read-only"
		}
		tools = append(tools, map[string]interface{}{
			"name":        cat,
			"description": access + " access to " + cat + "-category services, subject to per-service authorization",
		})
	}
	return &Response{Jsonrpc: "2.0", Result: map[string]interface{}{"tools": tools}, ID: req.ID}
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, agentName string, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{Jsonrpc: "2.0", Error: &RPCError{Code: -32602, Message: "Invalid params", Data: err.Error()}, ID: req.ID}
	}

	agent, err := d.agents.GetAgent(ctx, agentName)
	if err != nil || !agent.Enabled {
		return &Response{Jsonrpc: "2.0", Result: errorResult(apierr.New(apierr.Forbidden, "bound agent is missing or disabled")), ID: req.ID}
	}

	var result *ToolResult
	switch params.Name {
	case "queue":
		result = d.callQueue(ctx, agentName, params.Arguments)
	case "messages":
		result = d.callMessages(ctx, agentName, params.Arguments)
	case "mementos":
		result = d.callMementos(ctx, agent.ID, params.Arguments)
	case "services":
		result = d.callServices(ctx, agentName, params.Arguments)
	default:
		if isCategory(params.Name) {
			result = d.callCategory(ctx, agentName, params.Name, params.Arguments)
		} else {
			return &Response{
				Jsonrpc: "2.0",
				Error:   &RPCError{Code: -32001, Message: "Tool not found", Data: params.Name},
				ID:      req.ID,
			}
		}
	}
	return &Response{Jsonrpc: "2.0", Result: result, ID: req.ID}
}

// ── SSE fan-out ──────────────────────────────────────────────

// Subscribe opens a push channel for sessionID's server→client stream.
func (d *Dispatcher) Subscribe(sessionID string) <-chan Response {
	ch := make(chan Response, 32)
	d.subsMu.Lock()
	d.subs[sessionID] = append(d.subs[sessionID], ch)
	d.subsMu.Unlock()
	return ch
}

func (d *Dispatcher) Unsubscribe(sessionID string, ch <-chan Response) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	subs := d.subs[sessionID]
	for i, s := range subs {
		if s == ch {
			d.subs[sessionID] = append(subs[:i], subs[i+1:]...)
			close(s)
			break
		}
	}
}

// Push sends resp to every subscriber of sessionID, dropping it for any
// subscriber whose channel is full rather than blocking the caller.
func (d *Dispatcher) Push(sessionID string, resp Response) {
	d.subsMu.RLock()
	defer d.subsMu.RUnlock()
	for _, ch := range d.subs[sessionID] {
		select {
		case ch <- resp:
		default:
		}
	}
}

// KillSession closes and removes every subscriber channel for sessionID.
// Used by the administrative kill-session path and the TTL sweeper.
func (d *Dispatcher) KillSession(sessionID string) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for _, ch := range d.subs[sessionID] {
		close(ch)
	}
	delete(d.subs, sessionID)
}
