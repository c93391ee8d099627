// Package config loads gateway configuration from the environment, in the
// usual envStr/envInt/envBool style.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the gateway process.
type Config struct {
	Port                int
	DataDir             string
	LogFormat           string
	WebhookTimeout      time.Duration
	MessagingMode       string
	SharedQueueVisible  bool
	AgentWithdrawOK     bool
	SessionTTL          time.Duration
	MaxSessions         int
	GitHubWebhookSecret string
	Telemetry           TelemetryConfig
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible
// defaults (PORT=3050, data dir ~/.agentgate/, webhook timeout 10s).
func Load() *Config {
	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".agentgate")

	return &Config{
		Port:                envInt("PORT", 3050),
		DataDir:             envStr("AGENTGATE_DATA_DIR", defaultDataDir),
		LogFormat:           envStr("AGENTGATE_LOG_FORMAT", "console"),
		WebhookTimeout:      time.Duration(envInt("AGENTGATE_WEBHOOK_TIMEOUT_MS", 10000)) * time.Millisecond,
		MessagingMode:       envStr("AGENTGATE_MESSAGING_MODE", "supervised"),
		SharedQueueVisible:  envBool("AGENTGATE_SHARED_QUEUE_VISIBILITY", false),
		AgentWithdrawOK:     envBool("AGENTGATE_AGENT_WITHDRAW_ENABLED", true),
		SessionTTL:          time.Duration(envInt("AGENTGATE_SESSION_TTL_SECONDS", 1800)) * time.Second,
		MaxSessions:         envInt("AGENTGATE_MAX_SESSIONS", 1000),
		GitHubWebhookSecret: envStr("AGENTGATE_GITHUB_WEBHOOK_SECRET", ""),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("AGENTGATE_OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "agentgate"),
		},
	}
}

// DBPath is the single embedded database file everything persists to.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "agentgate.db")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
