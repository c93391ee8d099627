// Package server provides the public entry point for initializing the
// gateway.
//
// This package exists in pkg/ (not internal/) so an embedding binary can
// compose the full server and override pieces (extra auth providers, a
// different notifier) before listening.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":3050", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

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
	"github.com/agentgate/agentgate/internal/telemetry"
	"github.com/agentgate/agentgate/internal/vault"
	"github.com/agentgate/agentgate/internal/webhookin"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the embedded data store. Exposed so an embedding binary can
	// seed agents or credentials before listening.
	Store store.Store

	// Queue is the write-queue engine.
	Queue *queue.Engine

	// Notifier delivers outbound agent webhooks.
	Notifier *notify.Service

	// Sessions manages tool-dispatch sessions.
	Sessions *sessions.Manager

	// AuthChain is the pluggable authentication provider chain. Extra
	// providers can be registered before the server starts listening.
	AuthChain *agauth.ProviderChain

	// Settings is the runtime settings accessor.
	Settings *settings.Accessor

	// Port is the port the server should listen on.
	Port int

	// sweepCancel stops the session sweeper goroutine.
	sweepCancel context.CancelFunc

	// telemetryShutdown flushes telemetry on graceful shutdown.
	telemetryShutdown func(context.Context) error
}

// New initializes all gateway components from environment configuration
// and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the gateway with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := dataStore.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	log.Info().Str("path", cfg.DBPath()).Msg("✅ Store opened")

	return buildServer(ctx, cfg, dataStore, shutdown)
}

// NewWithStore initializes the gateway with an externally-provided store.
// The caller is responsible for running migrations and closing the store.
func NewWithStore(ctx context.Context, dataStore store.Store) (*Server, error) {
	cfg := config.Load()
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return buildServer(ctx, cfg, dataStore, shutdown)
}

// buildServer is the shared constructor that wires all services.
func buildServer(ctx context.Context, cfg *config.Config, dataStore store.Store, shutdown func(context.Context) error) (*Server, error) {
	set := settings.New(dataStore, cfg)
	if err := set.Load(ctx); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	res := resolver.New(dataStore)
	vlt := vault.New(dataStore)
	exec := executor.New(vlt)
	reader := executor.NewReader(exec)
	notifier := notify.New(dataStore, cfg.WebhookTimeout)
	q := queue.New(dataStore, dataStore, res, exec, notifier, set)
	msg := messaging.New(dataStore, dataStore, notifier, set)
	mem := memento.New(dataStore)

	log.Info().Msg("✅ Credential vault initialized")
	log.Info().Msg("✅ Queue engine initialized")
	log.Info().Msg("✅ Messaging engine initialized")

	sessMgr := sessions.New(dataStore, cfg.SessionTTL, cfg.MaxSessions)
	disp := dispatch.New(dataStore, res, q, msg, mem, reader)
	sessMgr.OnExpire(disp.KillSession)
	gw := mcpgw.NewGateway(sessMgr, disp)
	log.Info().
		Dur("ttl", cfg.SessionTTL).
		Int("max", cfg.MaxSessions).
		Msg("✅ Session manager initialized")

	wh := webhookin.New(cfg.GitHubWebhookSecret, dataStore, dataStore, notifier)

	h := handlers.New(dataStore, q, msg, mem, reader, res, wh, gw, sessMgr, set)

	authChain := agauth.NewProviderChain()
	authChain.RegisterProvider(agauth.NewAgentKeyProvider(dataStore))
	adminProvider := agauth.NewAdminTokenProvider()
	if adminProvider.Enabled() {
		authChain.RegisterProvider(adminProvider)
	} else {
		log.Warn().Msg("⚠️  No admin tokens configured — review endpoints are unreachable (set AGENTGATE_ADMIN_TOKENS)")
	}

	router := api.NewRouter(cfg, h, authChain)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go sessMgr.Run(sweepCtx)

	return &Server{
		Handler:           router,
		Store:             dataStore,
		Queue:             q,
		Notifier:          notifier,
		Sessions:          sessMgr,
		AuthChain:         authChain,
		Settings:          set,
		Port:              cfg.Port,
		sweepCancel:       sweepCancel,
		telemetryShutdown: shutdown,
	}, nil
}

// Shutdown stops the session sweeper and flushes telemetry. Should be
// called on graceful shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	if s.telemetryShutdown != nil {
		return s.telemetryShutdown(ctx)
	}
	return nil
}
