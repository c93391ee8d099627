package executor_test

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/executor"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/internal/vault"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/google/uuid"
)

// newUpstream returns an executor wired to a fake upstream. The mastodon
// service key resolves its base from the credential's instance field, so
// tests can point it at the httptest server.
func newUpstream(t *testing.T, handler http.Handler) (*executor.Executor, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := store.Open(filepath.Join(t.TempDir(), "agentgate.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.PutCredential(context.Background(), &models.Credential{
		Service:     "mastodon",
		AccountName: "alice",
		Data:        map[string]string{"access_token": "tok", "instance": srv.URL},
	}); err != nil {
		t.Fatalf("PutCredential() error = %v", err)
	}
	return executor.New(vault.New(s)), srv
}

func entryWith(requests ...models.QueueRequest) *models.QueueEntry {
	return &models.QueueEntry{
		ID:          uuid.NewString(),
		Service:     "mastodon",
		AccountName: "alice",
		Requests:    requests,
		Status:      models.QueueExecuting,
		SubmittedAt: time.Now().UTC(),
	}
}

func TestExecuteHappyBatch(t *testing.T) {
	var sawAuth, sawPath string
	exec, _ := newUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		sawPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"42"}`))
	}))

	results, status := exec.Execute(context.Background(), entryWith(
		models.QueueRequest{Method: "POST", Path: "/api/v1/statuses", Body: map[string]string{"status": "hi"}},
	))
	if status != models.QueueCompleted {
		t.Fatalf("status = %q, want completed", status)
	}
	if len(results) != 1 || !results[0].OK || results[0].Status != http.StatusCreated {
		t.Fatalf("results = %+v", results)
	}
	if sawAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", sawAuth)
	}
	if sawPath != "/api/v1/statuses" {
		t.Errorf("path = %q", sawPath)
	}
	if body, ok := results[0].Body.(map[string]interface{}); !ok || body["id"] != "42" {
		t.Errorf("decoded body = %#v", results[0].Body)
	}
}

func TestExecuteStopsOnFirstFailure(t *testing.T) {
	exec, _ := newUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	results, status := exec.Execute(context.Background(), entryWith(
		models.QueueRequest{Method: "POST", Path: "/ok"},
		models.QueueRequest{Method: "POST", Path: "/missing"},
		models.QueueRequest{Method: "POST", Path: "/never"},
	))
	if status != models.QueueFailed {
		t.Fatalf("status = %q, want failed", status)
	}
	if len(results) != 2 {
		t.Fatalf("results length = %d, want truncation at first failure", len(results))
	}
	if !results[0].OK || results[1].OK || results[1].Status != http.StatusNotFound {
		t.Errorf("results = %+v", results)
	}
}

func TestExecuteDecodesBinaryBody(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47, 0x00}
	var received []byte
	var contentType string
	exec, _ := newUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))

	results, status := exec.Execute(context.Background(), entryWith(models.QueueRequest{
		Method:       "POST",
		Path:         "/upload",
		Body:         base64.StdEncoding.EncodeToString(payload),
		BinaryBase64: true,
	}))
	if status != models.QueueCompleted {
		t.Fatalf("status = %q, results = %+v", status, results)
	}
	if string(received) != string(payload) {
		t.Errorf("upstream received %v, want raw decoded bytes %v", received, payload)
	}
	if contentType != "application/octet-stream" {
		t.Errorf("Content-Type = %q", contentType)
	}
}

func TestExecuteInvalidBase64Fails(t *testing.T) {
	exec, _ := newUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be reached for an invalid base64 body")
	}))

	results, status := exec.Execute(context.Background(), entryWith(models.QueueRequest{
		Method:       "POST",
		Path:         "/upload",
		Body:         "%%% not base64 %%%",
		BinaryBase64: true,
	}))
	if status != models.QueueFailed || len(results) != 1 || results[0].OK {
		t.Errorf("status = %q, results = %+v", status, results)
	}
}

func TestExecuteMissingCredentialIs401Result(t *testing.T) {
	exec, _ := newUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be reached without a credential")
	}))

	entry := entryWith(models.QueueRequest{Method: "POST", Path: "/x"})
	entry.AccountName = "nobody"
	results, status := exec.Execute(context.Background(), entry)
	if status != models.QueueFailed {
		t.Fatalf("status = %q, want failed", status)
	}
	if len(results) != 1 || results[0].OK || results[0].Status != http.StatusUnauthorized {
		t.Errorf("results = %+v, want a single 401-equivalent row", results)
	}
}

func TestExecutePerElementHeaders(t *testing.T) {
	var idem string
	exec, _ := newUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idem = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusOK)
	}))

	_, status := exec.Execute(context.Background(), entryWith(models.QueueRequest{
		Method:  "PUT",
		Path:    "/thing",
		Headers: map[string]string{"Idempotency-Key": "abc"},
	}))
	if status != models.QueueCompleted {
		t.Fatalf("status = %q", status)
	}
	if idem != "abc" {
		t.Errorf("Idempotency-Key = %q, want abc", idem)
	}
}

func TestReaderPassesThroughUpstreamStatus(t *testing.T) {
	exec, _ := newUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("reader sent %s, want GET", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"upstream":"said no"}`))
	}))

	status, contentType, body, err := executor.NewReader(exec).Read(context.Background(), "mastodon", "alice", "/api/v1/timelines/home?limit=5")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if status != http.StatusTeapot {
		t.Errorf("status = %d, want upstream status verbatim", status)
	}
	if contentType != "application/json" || string(body) != `{"upstream":"said no"}` {
		t.Errorf("passthrough = (%q, %q)", contentType, body)
	}
}
