package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/api"
	"github.com/agentgate/agentgate/internal/api/handlers"
	agauth "github.com/agentgate/agentgate/internal/auth"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/dispatch"
	"github.com/agentgate/agentgate/internal/executor"
	"github.com/agentgate/agentgate/internal/mcpgw"
	"github.com/agentgate/agentgate/internal/memento"
	"github.com/agentgate/agentgate/internal/messaging"
	"github.com/agentgate/agentgate/internal/notify"
	"github.com/agentgate/agentgate/internal/queue"
	"github.com/agentgate/agentgate/internal/resolver"
	"github.com/agentgate/agentgate/internal/sessions"
	"github.com/agentgate/agentgate/internal/settings"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/internal/vault"
	"github.com/agentgate/agentgate/internal/webhookin"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/stretchr/testify/require"
)

const adminToken = "reviewer-token"

type edge struct {
	router   http.Handler
	store    *store.SQLiteStore
	upstream *httptest.Server
}

// newEdge assembles the full HTTP edge over a fresh store, with a fake
// upstream reachable through the mastodon service key (whose base comes
// from the credential's instance field).
func newEdge(t *testing.T, upstream http.Handler) *edge {
	t.Helper()
	t.Setenv("AGENTGATE_ADMIN_TOKENS", adminToken)

	s, err := store.Open(filepath.Join(t.TempDir(), "agentgate.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	var up *httptest.Server
	if upstream != nil {
		up = httptest.NewServer(upstream)
		t.Cleanup(up.Close)
		require.NoError(t, s.PutCredential(context.Background(), &models.Credential{
			Service: "mastodon", AccountName: "alice",
			Data: map[string]string{"access_token": "tok", "instance": up.URL},
		}))
	}

	cfg := &config.Config{
		Port:                3050,
		WebhookTimeout:      2 * time.Second,
		MessagingMode:       "supervised",
		AgentWithdrawOK:     true,
		SessionTTL:          30 * time.Minute,
		MaxSessions:         100,
		GitHubWebhookSecret: "hook-secret",
	}
	router := buildRouter(t, cfg, s)
	return &edge{router: router, store: s, upstream: up}
}

func buildRouter(t *testing.T, cfg *config.Config, s *store.SQLiteStore) http.Handler {
	t.Helper()
	set := settings.New(s, cfg)
	require.NoError(t, set.Load(context.Background()))

	res := resolver.New(s)
	vlt := vault.New(s)
	exec := executor.New(vlt)
	reader := executor.NewReader(exec)
	notifier := notify.New(s, cfg.WebhookTimeout)
	q := queue.New(s, s, res, exec, notifier, set)
	msg := messaging.New(s, s, notifier, set)
	mem := memento.New(s)
	sessMgr := sessions.New(s, cfg.SessionTTL, cfg.MaxSessions)
	disp := dispatch.New(s, res, q, msg, mem, reader)
	gw := mcpgw.NewGateway(sessMgr, disp)
	wh := webhookin.New(cfg.GitHubWebhookSecret, s, s, notifier)
	h := handlers.New(s, q, msg, mem, reader, res, wh, gw, sessMgr, set)

	chain := agauth.NewProviderChain()
	chain.RegisterProvider(agauth.NewAgentKeyProvider(s))
	chain.RegisterProvider(agauth.NewAdminTokenProvider())
	return api.NewRouter(cfg, h, chain)
}

func (e *edge) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

// createAgent provisions an agent through the admin surface and returns its key.
func (e *edge) createAgent(t *testing.T, name, webhook string) string {
	t.Helper()
	rec := e.do(t, "POST", "/api/admin/agents/", adminToken, map[string]string{
		"name": name, "webhook_url": webhook,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Key string `json:"key"`
	}
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.Key)
	return resp.Key
}

// ─── Authentication ──────────────────────────────────────────

func TestAPIRequiresBearerKey(t *testing.T) {
	e := newEdge(t, nil)

	rec := e.do(t, "GET", "/api/queue/list", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, "GET", "/api/queue/list", "agk_definitely_not_valid_key", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminEndpointsRejectAgents(t *testing.T) {
	e := newEdge(t, nil)
	key := e.createAgent(t, "helper", "")

	rec := e.do(t, "GET", "/api/admin/queue/", key, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

// ─── Happy write (submit → approve → poll) ───────────────────

func TestHappyWriteFlow(t *testing.T) {
	e := newEdge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"new-status"}`))
	}))
	key := e.createAgent(t, "helper", "")

	rec := e.do(t, "POST", "/api/queue/mastodon/alice/submit", key, map[string]interface{}{
		"requests": []models.QueueRequest{{Method: "POST", Path: "/api/v1/statuses", Body: map[string]string{"status": "T"}}},
		"comment":  "explain",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var submitted struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, rec, &submitted)
	require.Equal(t, "pending", submitted.Status)

	rec = e.do(t, "POST", "/api/admin/queue/"+submitted.ID+"/approve", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var entry models.QueueEntry
	require.Eventually(t, func() bool {
		rec := e.do(t, "GET", "/api/queue/mastodon/alice/status/"+submitted.ID, key, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		decode(t, rec, &entry)
		return entry.Status == models.QueueCompleted || entry.Status == models.QueueFailed
	}, 2*time.Second, 20*time.Millisecond, "entry never reached terminal status")

	require.Equal(t, models.QueueCompleted, entry.Status)
	require.Len(t, entry.Results, 1)
	require.True(t, entry.Results[0].OK)
	require.Equal(t, 201, entry.Results[0].Status)
}

func TestSubmitInvalidServiceIs400(t *testing.T) {
	e := newEdge(t, nil)
	key := e.createAgent(t, "helper", "")

	rec := e.do(t, "POST", "/api/queue/brave/alice/submit", key, map[string]interface{}{
		"requests": []models.QueueRequest{{Method: "POST", Path: "/x"}},
		"comment":  "c",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// ─── Bypass fast path ────────────────────────────────────────

func TestBypassReturnsTerminalViewInOneCall(t *testing.T) {
	e := newEdge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	key := e.createAgent(t, "helper", "")

	rec := e.do(t, "PUT", "/api/admin/policies/mastodon/alice/bypass/helper", adminToken, map[string]bool{"bypass_auth": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "POST", "/api/queue/mastodon/alice/submit", key, map[string]interface{}{
		"requests": []models.QueueRequest{{Method: "POST", Path: "/api/v1/statuses"}},
		"comment":  "explain",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		Status   string               `json:"status"`
		Bypassed bool                 `json:"bypassed"`
		Results  []models.QueueResult `json:"results"`
	}
	decode(t, rec, &result)
	require.True(t, result.Bypassed)
	require.Equal(t, "completed", result.Status)
	require.Len(t, result.Results, 1)
}

// ─── Read proxy ──────────────────────────────────────────────

func TestReadProxyPassesUpstreamThrough(t *testing.T) {
	e := newEdge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/timelines/home", r.URL.Path)
		require.Equal(t, "limit=5", r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"id":"1"}]`))
	}))
	key := e.createAgent(t, "helper", "")

	rec := e.do(t, "GET", "/api/mastodon/alice/api/v1/timelines/home?limit=5", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"id":"1"}]`, rec.Body.String())
}

func TestReadProxyRejectsNonGET(t *testing.T) {
	e := newEdge(t, nil)
	key := e.createAgent(t, "helper", "")

	rec := e.do(t, "POST", "/api/mastodon/alice/api/v1/statuses", key, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReadProxyBlockedPath(t *testing.T) {
	e := newEdge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("blocked path reached upstream")
	}))
	key := e.createAgent(t, "helper", "")

	rec := e.do(t, "GET", "/api/mastodon/alice/api/v1/conversations", key, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

// ─── Supervised messaging ────────────────────────────────────

func TestSupervisedMessagingFlow(t *testing.T) {
	e := newEdge(t, nil)
	aliceKey := e.createAgent(t, "alice", "")
	cKey := e.createAgent(t, "c", "")

	rec := e.do(t, "POST", "/api/agents/message", aliceKey, map[string]string{"to_agent": "C", "message": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg models.AgentMessage
	decode(t, rec, &msg)
	require.Equal(t, models.MessagePending, msg.Status)

	// The recipient sees nothing while the message pends.
	rec = e.do(t, "GET", "/api/agents/messages", cKey, nil)
	var inbox struct {
		Messages []models.AgentMessage `json:"messages"`
	}
	decode(t, rec, &inbox)
	require.Empty(t, inbox.Messages)

	rec = e.do(t, "POST", "/api/admin/messages/"+msg.ID+"/approve", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, "GET", "/api/agents/messages", cKey, nil)
	decode(t, rec, &inbox)
	require.Len(t, inbox.Messages, 1)
	require.Equal(t, models.MessageDelivered, inbox.Messages[0].Status)

	rec = e.do(t, "POST", "/api/agents/messages/"+msg.ID+"/read", cKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, "POST", "/api/agents/messages/"+msg.ID+"/read", cKey, nil)
	require.Equal(t, http.StatusNotFound, rec.Code, "second mark_read must be not-found")
}

// ─── Mementos over HTTP ──────────────────────────────────────

func TestMementoEndpoints(t *testing.T) {
	e := newEdge(t, nil)
	key := e.createAgent(t, "helper", "")

	rec := e.do(t, "POST", "/api/agents/memento", key, map[string]interface{}{
		"content": "ring buffers make snake easy", "keywords": []string{"snake", "games"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, "GET", "/api/agents/memento/search?keywords=game", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var search struct {
		Matches []models.MementoMatch `json:"matches"`
	}
	decode(t, rec, &search)
	require.Len(t, search.Matches, 1)

	rec = e.do(t, "GET", "/api/agents/memento/keywords", key, nil)
	var kw struct {
		Keywords []string `json:"keywords"`
	}
	decode(t, rec, &kw)
	require.ElementsMatch(t, []string{"snake", "game"}, kw.Keywords)
}

// ─── GitHub webhook ──────────────────────────────────────────

func TestGitHubWebhookHMAC(t *testing.T) {
	e := newEdge(t, nil)

	body := []byte(`{"zen":"Anything added dilutes everything else.","hook_id":1}`)
	sig := notify.Sign([]byte("hook-secret"), body)

	req := httptest.NewRequest("POST", "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	req.Header.Set("X-GitHub-Event", "ping")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ack map[string]string
	decode(t, rec, &ack)
	require.Equal(t, "pong", ack["status"])

	// Tampered signature → 401.
	req = httptest.NewRequest("POST", "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	req.Header.Set("X-GitHub-Event", "ping")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Missing signature with a configured secret → 401.
	req = httptest.NewRequest("POST", "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "ping")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ─── Tool-dispatch sessions ──────────────────────────────────

func (e *edge) mcpPost(t *testing.T, token, sessionID string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/mcp/", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+token)
	if sessionID != "" {
		req.Header.Set(mcpgw.SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func initPayload() map[string]interface{} {
	return map[string]interface{}{"jsonrpc": "2.0", "method": "initialize", "id": 1}
}

func TestMCPSessionLifecycle(t *testing.T) {
	e := newEdge(t, nil)
	key := e.createAgent(t, "helper", "")

	// Initialize opens a session and returns its id in the header.
	rec := e.mcpPost(t, key, "", initPayload())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionID := rec.Header().Get(mcpgw.SessionHeader)
	require.NotEmpty(t, sessionID)

	// A follow-up call on the session works.
	rec = e.mcpPost(t, key, sessionID, map[string]interface{}{"jsonrpc": "2.0", "method": "tools/list", "id": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A non-initialize message without a session id is rejected.
	rec = e.mcpPost(t, key, "", map[string]interface{}{"jsonrpc": "2.0", "method": "tools/list", "id": 3})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Another agent cannot ride the session.
	otherKey := e.createAgent(t, "other", "")
	rec = e.mcpPost(t, otherKey, sessionID, map[string]interface{}{"jsonrpc": "2.0", "method": "ping", "id": 4})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	// DELETE terminates; the id stops working.
	req := httptest.NewRequest("DELETE", "/mcp/", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set(mcpgw.SessionHeader, sessionID)
	del := httptest.NewRecorder()
	e.router.ServeHTTP(del, req)
	require.Equal(t, http.StatusNoContent, del.Code)

	rec = e.mcpPost(t, key, sessionID, map[string]interface{}{"jsonrpc": "2.0", "method": "ping", "id": 5})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// A restart loses the in-memory session map; a valid prior session id must
// keep working through lazy reconstruction from the persisted row.
func TestMCPSessionSurvivesRestart(t *testing.T) {
	e := newEdge(t, nil)
	key := e.createAgent(t, "helper", "")

	rec := e.mcpPost(t, key, "", initPayload())
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get(mcpgw.SessionHeader)
	require.NotEmpty(t, sessionID)

	// Rebuild the whole edge over the same store: a process restart.
	cfg := &config.Config{
		Port: 3050, WebhookTimeout: time.Second, MessagingMode: "supervised",
		AgentWithdrawOK: true, SessionTTL: 30 * time.Minute, MaxSessions: 100,
	}
	restarted := &edge{router: buildRouter(t, cfg, e.store), store: e.store}

	rec = restarted.mcpPost(t, key, sessionID, map[string]interface{}{"jsonrpc": "2.0", "method": "ping", "id": 9})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Result map[string]string `json:"result"`
	}
	decode(t, rec, &resp)
	require.Equal(t, "pong", resp.Result["status"])
}

// ─── Withdraw over HTTP ──────────────────────────────────────

func TestWithdrawEndpoint(t *testing.T) {
	e := newEdge(t, nil)
	require.NoError(t, e.store.PutCredential(context.Background(), &models.Credential{
		Service: "github", AccountName: "personal", Data: map[string]string{"access_token": "tok"},
	}))
	key := e.createAgent(t, "helper", "")

	rec := e.do(t, "POST", "/api/queue/github/personal/submit", key, map[string]interface{}{
		"requests": []models.QueueRequest{{Method: "DELETE", Path: "/repos/o/r"}},
		"comment":  "cleanup",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted struct {
		ID string `json:"id"`
	}
	decode(t, rec, &submitted)

	rec = e.do(t, "DELETE", fmt.Sprintf("/api/queue/github/personal/status/%s", submitted.ID), key, map[string]string{"reason": "oops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, "GET", "/api/queue/github/personal/status/"+submitted.ID, key, nil)
	var entry models.QueueEntry
	decode(t, rec, &entry)
	require.Equal(t, models.QueueWithdrawn, entry.Status)
}
