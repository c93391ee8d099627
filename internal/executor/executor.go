// Package executor implements the deterministic write executor:
// given an approved queue entry, it replays its requests against the
// upstream service strictly in order, stopping at the first non-2xx
// response.
package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentgate/agentgate/internal/vault"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// serviceBases is the fixed upstream base URL per service key.
var serviceBases = map[string]string{
	"github":          "https://api.github.com",
	"bluesky":         "https://bsky.social",
	"reddit":          "https://oauth.reddit.com",
	"mastodon":        "", // instance-specific; resolved from the credential's "instance" field ("domain" as fallback)
	"calendar":        "https://www.googleapis.com/calendar/v3",
	"google_calendar": "https://www.googleapis.com/calendar/v3",
	"youtube":         "https://www.googleapis.com/youtube/v3",
	"linkedin":        "https://api.linkedin.com/v2",
	"jira":            "", // instance-specific; resolved from the credential's "instance" field
	"fitbit":          "https://api.fitbit.com/1",
	"brave":           "https://api.search.brave.com/res/v1",
	"google_search":   "https://customsearch.googleapis.com/customsearch/v1",
}

// ServiceBase returns the fixed upstream base URL for service, and whether
// service is a known key at all. Used by Reader (read.go), which serves
// both the read proxy (internal/api) and the tool dispatcher
// (internal/dispatch), so both agree with the executor on where a
// service's upstream calls land.
func ServiceBase(service string) (string, bool) {
	base, ok := serviceBases[service]
	return base, ok
}

type Executor struct {
	vault  *vault.Vault
	client *http.Client
}

func New(v *vault.Vault) *Executor {
	return &Executor{vault: v, client: &http.Client{Timeout: 30 * time.Second}}
}

// Execute runs entry.Requests[0..n-1] in order, building each upstream URL
// from the service base plus the element's path, applying the
// authorization header fetched through the vault, and stopping at the
// first non-2xx response. It never returns a Go error: failures up to and
// including a missing credential surface as a result row with ok=false.
func (e *Executor) Execute(ctx context.Context, entry *models.QueueEntry) ([]models.QueueResult, models.QueueStatus) {
	base := e.resolveBase(ctx, entry.Service, entry.AccountName)

	results := make([]models.QueueResult, 0, len(entry.Requests))
	for _, req := range entry.Requests {
		result := e.executeOne(ctx, entry.Service, entry.AccountName, base, req)
		results = append(results, result)
		if !result.OK {
			return results, models.QueueFailed
		}
	}
	return results, models.QueueCompleted
}

// resolveBase prefers the registry's fixed base and falls back to the
// credential's instance/domain for host-per-account services.
func (e *Executor) resolveBase(ctx context.Context, service, account string) string {
	if base := serviceBases[service]; base != "" {
		return base
	}
	return e.vault.BaseOverride(ctx, service, account)
}

func (e *Executor) executeOne(ctx context.Context, service, account, base string, qr models.QueueRequest) models.QueueResult {
	headerName, headerValue, err := e.vault.Authorize(ctx, service, account)
	if err != nil {
		log.Warn().Err(err).Str("service", service).Str("account", account).Msg("credential unavailable for upstream call")
		return models.QueueResult{OK: false, Status: http.StatusUnauthorized, Body: map[string]string{"error": err.Error()}}
	}

	var bodyReader io.Reader
	contentType := "application/json"
	if qr.BinaryBase64 {
		raw, ok := qr.Body.(string)
		if !ok {
			return models.QueueResult{OK: false, Status: http.StatusBadRequest, Body: map[string]string{"error": "binaryBase64 body must be a base64 string"}}
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return models.QueueResult{OK: false, Status: http.StatusBadRequest, Body: map[string]string{"error": "invalid base64 body: " + err.Error()}}
		}
		bodyReader = bytes.NewReader(decoded)
		contentType = "application/octet-stream"
	} else if qr.Body != nil {
		encoded, err := json.Marshal(qr.Body)
		if err != nil {
			return models.QueueResult{OK: false, Status: http.StatusBadRequest, Body: map[string]string{"error": "invalid JSON body: " + err.Error()}}
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, qr.Method, base+qr.Path, bodyReader)
	if err != nil {
		return models.QueueResult{OK: false, Status: http.StatusInternalServerError, Body: map[string]string{"error": err.Error()}}
	}
	httpReq.Header.Set(headerName, headerValue)
	httpReq.Header.Set("Content-Type", contentType)
	for k, v := range qr.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return models.QueueResult{OK: false, Status: http.StatusBadGateway, Body: map[string]string{"error": fmt.Sprintf("upstream request failed: %v", err)}}
	}
	defer resp.Body.Close()

	var decodedBody interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decodedBody); err != nil {
			decodedBody = string(raw)
		}
	}

	return models.QueueResult{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   decodedBody,
	}
}
