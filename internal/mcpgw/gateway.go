// Package mcpgw is the HTTP transport for the tool dispatcher: a single
// endpoint speaking JSON-RPC 2.0 over POST, an SSE stream for server→client
// notifications over GET, and DELETE to terminate a session. The session id
// travels in the Mcp-Session-Id request header; a missing id is only legal
// on an initialize message, which opens a fresh session.
package mcpgw

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/dispatch"
	"github.com/agentgate/agentgate/internal/sessions"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// SessionHeader carries the session id on every tool-dispatch request.
const SessionHeader = "Mcp-Session-Id"

// Gateway binds the session manager to the dispatcher. It owns no state of
// its own: sessions live in the manager, subscriptions in the dispatcher.
type Gateway struct {
	sessions   *sessions.Manager
	dispatcher *dispatch.Dispatcher
}

// NewGateway creates the tool-dispatch transport.
func NewGateway(sm *sessions.Manager, d *dispatch.Dispatcher) *Gateway {
	return &Gateway{sessions: sm, dispatcher: d}
}

// HandlePost processes one JSON-RPC message from the authenticated agent.
//
// An initialize message with no session header opens a new session and
// returns its id in the response header. Every other message must carry a
// session id whose persisted binding matches the calling agent — after a
// process restart the in-memory half is reconstructed lazily by the session
// manager, so a valid pre-restart id keeps working.
func (gw *Gateway) HandlePost(w http.ResponseWriter, r *http.Request, agentName string) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, http.StatusBadRequest, -32700, "Parse error", err.Error())
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		if req.Method != "initialize" {
			writeRPCError(w, http.StatusBadRequest, -32600, "Invalid Request", "missing "+SessionHeader+" header")
			return
		}
		sess, err := gw.sessions.Create(r.Context(), agentName)
		if err != nil {
			status := http.StatusInternalServerError
			if ae, ok := apierr.As(err); ok {
				status = ae.Status()
			}
			writeRPCError(w, status, -32000, "Session rejected", err.Error())
			return
		}
		w.Header().Set(SessionHeader, sess.ID)
		writeResponse(w, gw.dispatcher.Handle(r.Context(), agentName, &req))
		return
	}

	sess, err := gw.resolve(r, sessionID, agentName)
	if err != nil {
		status := http.StatusInternalServerError
		if ae, ok := apierr.As(err); ok {
			status = ae.Status()
		}
		writeRPCError(w, status, -32001, "Session invalid", err.Error())
		return
	}
	if err := gw.sessions.Touch(r.Context(), sess.ID); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("mcpgw: session touch failed")
	}

	resp := gw.dispatcher.Handle(r.Context(), sess.AgentName, &req)
	if resp == nil {
		// Notifications get no response body.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set(SessionHeader, sess.ID)
	writeResponse(w, resp)
}

// HandleSSE opens the server→client notification stream for a session.
func (gw *Gateway) HandleSSE(w http.ResponseWriter, r *http.Request, agentName string) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "missing "+SessionHeader+" header", http.StatusBadRequest)
		return
	}
	sess, err := gw.resolve(r, sessionID, agentName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := gw.dispatcher.Subscribe(sess.ID)
	defer gw.dispatcher.Unsubscribe(sess.ID, ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case resp, open := <-ch:
			if !open {
				// Session was killed administratively; close the stream.
				return
			}
			payload, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// HandleDelete terminates a session: closes any in-flight stream, drops the
// in-memory entry, and deletes the persisted row.
func (gw *Gateway) HandleDelete(w http.ResponseWriter, r *http.Request, agentName string) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "missing "+SessionHeader+" header", http.StatusBadRequest)
		return
	}
	if _, err := gw.resolve(r, sessionID, agentName); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	gw.Kill(r, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// Kill force-closes a session regardless of who asks; callers authorize.
func (gw *Gateway) Kill(r *http.Request, sessionID string) {
	gw.dispatcher.KillSession(sessionID)
	if err := gw.sessions.Delete(r.Context(), sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("mcpgw: session delete failed")
	}
}

// resolve looks the session up (reconstructing it after a restart) and
// checks that its persisted binding names the calling agent.
func (gw *Gateway) resolve(r *http.Request, sessionID, agentName string) (*models.Session, error) {
	sess, err := gw.sessions.Get(r.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(sess.AgentName, agentName) {
		return nil, apierr.New(apierr.Forbidden, "session is bound to a different agent")
	}
	return sess, nil
}

func writeResponse(w http.ResponseWriter, resp *dispatch.Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, httpStatus, code int, message, data string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(dispatch.Response{
		Jsonrpc: "2.0",
		Error:   &dispatch.RPCError{Code: code, Message: message, Data: data},
	})
}
