package sessions_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/sessions"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/stretchr/testify/require"
)

// countingStore is an in-memory SessionStore that counts reads and writes,
// so the single-flight and debounce behavior is observable.
type countingStore struct {
	mu       sync.Mutex
	rows     map[string]models.Session
	gets     atomic.Int64
	touches  atomic.Int64
	getDelay time.Duration
}

func newCountingStore() *countingStore {
	return &countingStore{rows: map[string]models.Session{}}
}

func (c *countingStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	c.gets.Add(1)
	if c.getDelay > 0 {
		time.Sleep(c.getDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.rows[id]
	if !ok {
		return nil, context.Canceled
	}
	copied := s
	return &copied, nil
}

func (c *countingStore) CreateSession(ctx context.Context, s *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[s.ID] = *s
	return nil
}

func (c *countingStore) TouchSession(ctx context.Context, id string, lastSeen time.Time) error {
	c.touches.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.rows[id]
	s.LastSeenAt = lastSeen
	c.rows[id] = s
	return nil
}

func (c *countingStore) DeleteSession(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, id)
	return nil
}

func (c *countingStore) ListExpiredSessions(ctx context.Context, olderThan time.Time) ([]models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Session
	for _, s := range c.rows {
		if s.LastSeenAt.Before(olderThan) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *countingStore) ListAgentSessions(ctx context.Context, agentName string) ([]models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Session
	for _, s := range c.rows {
		if s.AgentName == agentName {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestCreateAndGet(t *testing.T) {
	cs := newCountingStore()
	m := sessions.New(cs, 30*time.Minute, 10)

	s, err := m.Create(context.Background(), "helper")
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, "helper", got.AgentName)
	// Cached: no store read was needed.
	require.EqualValues(t, 0, cs.gets.Load())
}

func TestCreateRespectsCapacity(t *testing.T) {
	m := sessions.New(newCountingStore(), 30*time.Minute, 2)
	ctx := context.Background()

	_, err := m.Create(ctx, "a")
	require.NoError(t, err)
	_, err = m.Create(ctx, "b")
	require.NoError(t, err)
	_, err = m.Create(ctx, "c")
	require.Error(t, err, "third session must exceed capacity")
}

// A restart loses the in-memory half; the persisted row rebuilds it.
func TestLazyReconstruction(t *testing.T) {
	cs := newCountingStore()
	first := sessions.New(cs, 30*time.Minute, 10)
	s, err := first.Create(context.Background(), "helper")
	require.NoError(t, err)

	restarted := sessions.New(cs, 30*time.Minute, 10)
	got, err := restarted.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, "helper", got.AgentName)
	require.EqualValues(t, 1, cs.gets.Load())
}

// Concurrent lookups for the same uncached id share one store read.
func TestSingleFlightReconstruction(t *testing.T) {
	cs := newCountingStore()
	cs.getDelay = 50 * time.Millisecond
	require.NoError(t, cs.CreateSession(context.Background(), &models.Session{
		ID: "sess-1", AgentName: "helper", CreatedAt: time.Now(), LastSeenAt: time.Now(),
	}))

	m := sessions.New(cs, 30*time.Minute, 10)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Get(context.Background(), "sess-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}
	require.EqualValues(t, 1, cs.gets.Load(), "reconstruction must be single-flight")
}

func TestTouchDebouncesWrites(t *testing.T) {
	cs := newCountingStore()
	m := sessions.New(cs, 30*time.Minute, 10)
	s, err := m.Create(context.Background(), "helper")
	require.NoError(t, err)

	// Rapid touches inside the debounce window update memory only.
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Touch(context.Background(), s.ID))
	}
	require.EqualValues(t, 0, cs.touches.Load())

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.False(t, got.LastSeenAt.IsZero())
}

func TestDeleteRemovesRowAndCache(t *testing.T) {
	cs := newCountingStore()
	m := sessions.New(cs, 30*time.Minute, 10)
	s, err := m.Create(context.Background(), "helper")
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), s.ID))
	_, err = m.Get(context.Background(), s.ID)
	require.Error(t, err)
}

func TestListByAgent(t *testing.T) {
	cs := newCountingStore()
	m := sessions.New(cs, 30*time.Minute, 10)
	ctx := context.Background()
	_, err := m.Create(ctx, "helper")
	require.NoError(t, err)
	_, err = m.Create(ctx, "helper")
	require.NoError(t, err)
	_, err = m.Create(ctx, "other")
	require.NoError(t, err)

	got, err := m.ListByAgent(ctx, "helper")
	require.NoError(t, err)
	require.Len(t, got, 2)
}
