// Package sessions manages agent session identity: a small in-memory
// registry in front of a durable store, with a TTL sweep, debounced
// persistence, and single-flight reconstruction after a process restart.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const touchDebounce = 30 * time.Second

// cacheEntry mirrors one session's durable state plus the bookkeeping
// needed to debounce touch writes.
type cacheEntry struct {
	session     models.Session
	lastWriteAt time.Time
}

// Manager bounds the live session set to maxSessions and expires entries
// idle past ttl. A local single-flight map prevents two concurrent lookups
// for the same not-yet-cached session ID from racing to reconstruct it from
// the store.
type Manager struct {
	store store.SessionStore
	ttl   time.Duration
	max   int

	mu    sync.Mutex
	cache map[string]*cacheEntry

	inflightMu sync.Mutex
	inflight   map[string]*sync.WaitGroup

	// onExpire, when set, closes a session's transport before the sweep
	// removes it. Wired to the dispatcher's KillSession by the composition
	// root.
	onExpire func(sessionID string)
}

func New(s store.SessionStore, ttl time.Duration, maxSessions int) *Manager {
	return &Manager{
		store:    s,
		ttl:      ttl,
		max:      maxSessions,
		cache:    make(map[string]*cacheEntry),
		inflight: make(map[string]*sync.WaitGroup),
	}
}

// OnExpire registers a callback invoked for each session the sweep expires.
func (m *Manager) OnExpire(fn func(sessionID string)) {
	m.onExpire = fn
}

// Run starts the expiry sweep and blocks until ctx is cancelled. Intended
// to be launched in its own goroutine from the composition root.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.ttl)
	expired, err := m.store.ListExpiredSessions(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("session sweep: failed to list expired sessions")
		return
	}
	for _, s := range expired {
		if m.onExpire != nil {
			m.onExpire(s.ID)
		}
		if err := m.store.DeleteSession(ctx, s.ID); err != nil {
			log.Error().Err(err).Str("session_id", s.ID).Msg("session sweep: failed to delete expired session")
			continue
		}
		m.mu.Lock()
		delete(m.cache, s.ID)
		m.mu.Unlock()
	}
}

// Create opens a new session for agentName, rejecting the request once the
// live session count reaches the configured maximum.
func (m *Manager) Create(ctx context.Context, agentName string) (*models.Session, error) {
	m.mu.Lock()
	count := len(m.cache)
	m.mu.Unlock()
	if count >= m.max {
		return nil, apierr.New(apierr.Conflict, "session capacity reached")
	}

	now := time.Now().UTC()
	s := &models.Session{ID: uuid.NewString(), AgentName: agentName, CreatedAt: now, LastSeenAt: now}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cache[s.ID] = &cacheEntry{session: *s, lastWriteAt: now}
	m.mu.Unlock()
	return s, nil
}

// Get returns a cached session, single-flighting reconstruction from the
// store on a cache miss so concurrent callers for the same ID share one
// database round trip.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	if entry, ok := m.cache[id]; ok {
		s := entry.session
		m.mu.Unlock()
		return &s, nil
	}
	m.mu.Unlock()

	m.inflightMu.Lock()
	wg, loading := m.inflight[id]
	if !loading {
		wg = &sync.WaitGroup{}
		wg.Add(1)
		m.inflight[id] = wg
		m.inflightMu.Unlock()

		s, err := m.store.GetSession(ctx, id)
		if err == nil {
			m.mu.Lock()
			m.cache[id] = &cacheEntry{session: *s, lastWriteAt: time.Now().UTC()}
			m.mu.Unlock()
		}

		m.inflightMu.Lock()
		delete(m.inflight, id)
		m.inflightMu.Unlock()
		wg.Done()

		if err != nil {
			return nil, apierr.Wrap(apierr.NotFound, err, "session not found")
		}
		return s, nil
	}
	m.inflightMu.Unlock()

	wg.Wait()
	m.mu.Lock()
	entry, ok := m.cache[id]
	m.mu.Unlock()
	if !ok {
		return nil, apierr.New(apierr.NotFound, "session not found")
	}
	s := entry.session
	return &s, nil
}

// Touch records activity on a session, persisting at most once per
// touchDebounce window; intervening touches only update the in-memory copy.
func (m *Manager) Touch(ctx context.Context, id string) error {
	now := time.Now().UTC()

	m.mu.Lock()
	entry, ok := m.cache[id]
	if !ok {
		m.mu.Unlock()
		if _, err := m.Get(ctx, id); err != nil {
			return err
		}
		m.mu.Lock()
		entry, ok = m.cache[id]
		if !ok {
			m.mu.Unlock()
			return apierr.New(apierr.NotFound, "session not found")
		}
	}
	entry.session.LastSeenAt = now
	shouldPersist := now.Sub(entry.lastWriteAt) >= touchDebounce
	if shouldPersist {
		entry.lastWriteAt = now
	}
	m.mu.Unlock()

	if !shouldPersist {
		return nil
	}
	return m.store.TouchSession(ctx, id, now)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.cache, id)
	m.mu.Unlock()
	return m.store.DeleteSession(ctx, id)
}

// ListByAgent returns every persisted session bound to agentName, for the
// administrative kill-agent-sessions operation.
func (m *Manager) ListByAgent(ctx context.Context, agentName string) ([]models.Session, error) {
	return m.store.ListAgentSessions(ctx, agentName)
}
