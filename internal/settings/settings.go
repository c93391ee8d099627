// Package settings is the explicit service container the design calls for
// in place of ad hoc module globals: messaging mode, shared-queue
// visibility and the agent-withdraw flag are construction-time defaults
// from internal/config, overridable at runtime through the Setting table.
// Values are held in memory: loaded from the store at boot and updated by
// every write through Set; the store is not re-read after boot.
package settings

import (
	"context"
	"strconv"
	"sync"

	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/store"
)

const (
	KeyMessagingMode      = "messaging_mode"
	KeySharedQueueVisible = "shared_queue_visibility"
	KeyAgentWithdrawOK    = "agent_withdraw_enabled"
)

// Accessor loads settings from the store on boot and lets admin writes
// mutate them in place; readers always see the latest admin-written value
// without needing to restart the process.
type Accessor struct {
	mu    sync.RWMutex
	store store.SettingsStore
	cache map[string]string
}

func New(s store.SettingsStore, cfg *config.Config) *Accessor {
	return &Accessor{
		store: s,
		cache: map[string]string{
			KeyMessagingMode:      cfg.MessagingMode,
			KeySharedQueueVisible: strconv.FormatBool(cfg.SharedQueueVisible),
			KeyAgentWithdrawOK:    strconv.FormatBool(cfg.AgentWithdrawOK),
		},
	}
}

// Load reads every known key from the store, overriding the config-derived
// defaults where an admin has previously written one.
func (a *Accessor) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.cache {
		if v, ok, err := a.store.GetSetting(ctx, key); err != nil {
			return err
		} else if ok {
			a.cache[key] = v
		}
	}
	return nil
}

// Set persists key and updates the in-memory cache atomically with respect
// to readers.
func (a *Accessor) Set(ctx context.Context, key, value string) error {
	if err := a.store.PutSetting(ctx, key, value); err != nil {
		return err
	}
	a.mu.Lock()
	a.cache[key] = value
	a.mu.Unlock()
	return nil
}

func (a *Accessor) MessagingMode() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cache[KeyMessagingMode]
}

func (a *Accessor) SharedQueueVisible() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, _ := strconv.ParseBool(a.cache[KeySharedQueueVisible])
	return b
}

func (a *Accessor) AgentWithdrawEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, _ := strconv.ParseBool(a.cache[KeyAgentWithdrawOK])
	return b
}
