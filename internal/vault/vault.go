// Package vault is the credential vault: per-(service, account)
// token storage with refresh-on-read semantics. It is consulted by the
// executor before every upstream call and by the read-proxy path in the
// HTTP edge.
package vault

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// oauthRefreshable is the fixed set of providers whose expired access
// tokens are exchanged for a new one via a refresh-token grant.
var oauthRefreshable = map[string]bool{
	"calendar":        true,
	"google_calendar": true,
	"youtube":         true,
	"reddit":          true,
	"linkedin":        true,
	"fitbit":          true,
}

// Vault refreshes and serves upstream authorization for every fixed
// service key in the registry.
type Vault struct {
	store  store.CredentialStore
	client *http.Client
}

func New(s store.CredentialStore) *Vault {
	return &Vault{store: s, client: &http.Client{Timeout: 20 * time.Second}}
}

// Authorize returns the HTTP header name/value to attach to an upstream
// call for (service, account), refreshing the stored credential first if
// it is an OAuth-refreshable provider whose token has expired, or
// re-establishing a Bluesky app-password session if the cached one is
// past its 90-minute design-chosen validity window.
func (v *Vault) Authorize(ctx context.Context, service, account string) (headerName, headerValue string, err error) {
	cred, err := v.store.GetCredential(ctx, service, account)
	if err != nil {
		return "", "", apierr.Wrap(apierr.Unauthorized, err, "no credential configured for "+service+"/"+account)
	}

	switch {
	case service == "bluesky":
		return v.authorizeBluesky(ctx, cred)
	case oauthRefreshable[service]:
		return v.authorizeOAuth(ctx, cred)
	case service == "jira":
		// Basic auth: email + API token, static, no refresh.
		return "Authorization", "Basic " + basicAuth(cred.Data["email"], cred.Data["api_token"]), nil
	default:
		// github and any other static-token provider.
		token := cred.Data["access_token"]
		if token == "" {
			return "", "", apierr.New(apierr.Unauthorized, "credential for "+service+"/"+cred.AccountName+" has no access_token")
		}
		return "Authorization", "Bearer " + token, nil
	}
}

func (v *Vault) authorizeOAuth(ctx context.Context, cred *models.Credential) (string, string, error) {
	if !isExpired(cred.Data) {
		return "Authorization", "Bearer " + cred.Data["access_token"], nil
	}

	log.Info().Str("service", cred.Service).Str("account", cred.AccountName).Msg("refreshing OAuth token")
	refreshed, err := v.refreshOAuth(ctx, cred)
	if err != nil {
		return "", "", apierr.Wrap(apierr.Unauthorized, err, "token refresh failed")
	}
	cred.Data = refreshed
	if err := v.store.PutCredential(ctx, cred); err != nil {
		return "", "", err
	}
	return "Authorization", "Bearer " + refreshed["access_token"], nil
}

func (v *Vault) authorizeBluesky(ctx context.Context, cred *models.Credential) (string, string, error) {
	if jwt := cred.Data["accessJwt"]; jwt != "" && !isExpired(cred.Data) {
		return "Authorization", "Bearer " + jwt, nil
	}

	log.Info().Str("account", cred.AccountName).Msg("re-establishing Bluesky session")
	session, err := v.createBlueskySession(ctx, cred)
	if err != nil {
		return "", "", apierr.Wrap(apierr.Unauthorized, err, "bluesky session creation failed")
	}
	cred.Data = session
	if err := v.store.PutCredential(ctx, cred); err != nil {
		return "", "", err
	}
	return "Authorization", "Bearer " + session["accessJwt"], nil
}

// BaseOverride returns the per-account upstream base for services whose
// host lives in the credential rather than the fixed registry (mastodon's
// instance, jira's site domain). Empty when the credential carries none.
func (v *Vault) BaseOverride(ctx context.Context, service, account string) string {
	cred, err := v.store.GetCredential(ctx, service, account)
	if err != nil {
		return ""
	}
	if instance := cred.Data["instance"]; instance != "" {
		return instance
	}
	return cred.Data["domain"]
}

// isExpired applies the issued-at + expires_in - 60s safety margin.
func isExpired(data map[string]string) bool {
	expiresAt, err := strconv.ParseInt(data["expires_at"], 10, 64)
	if err != nil {
		return true
	}
	return time.Now().Unix() >= expiresAt-60
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
