package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/agentgate/agentgate/pkg/models"
)

func (s *SQLiteStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, hashed_key, key_prefix, bio, webhook_url, webhook_token, enabled, raw_results, created_at FROM agents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, hashed_key, key_prefix, bio, webhook_url, webhook_token, enabled, raw_results, created_at FROM agents WHERE name = ? COLLATE NOCASE`, name)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: name}
	}
	return a, err
}

func (s *SQLiteStore) GetAgentByID(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, hashed_key, key_prefix, bio, webhook_url, webhook_token, enabled, raw_results, created_at FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	return a, err
}

// GetAgentByKeyPrefix narrows a bearer-key lookup to one row before the
// caller runs the hash comparison.
func (s *SQLiteStore) GetAgentByKeyPrefix(ctx context.Context, prefix string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, hashed_key, key_prefix, bio, webhook_url, webhook_token, enabled, raw_results, created_at FROM agents WHERE key_prefix = ?`, prefix)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: prefix}
	}
	return a, err
}

func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, hashed_key, key_prefix, bio, webhook_url, webhook_token, enabled, raw_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, agent.HashedKey, agent.KeyPrefix, agent.Bio, agent.WebhookURL, agent.WebhookTok,
		boolToInt(agent.Enabled), boolToInt(agent.RawResults), formatISO(agent.CreatedAt))
	return err
}

func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET hashed_key=?, key_prefix=?, bio=?, webhook_url=?, webhook_token=?, enabled=?, raw_results=?
		WHERE id = ?`,
		agent.HashedKey, agent.KeyPrefix, agent.Bio, agent.WebhookURL, agent.WebhookTok,
		boolToInt(agent.Enabled), boolToInt(agent.RawResults), agent.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	return nil
}

// DeleteAgent is a soft delete: the row is disabled, never removed, so
// queue entries and messages that reference the agent by name, and
// mementos that reference it by id, keep working.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET enabled = 0 WHERE name = ? COLLATE NOCASE`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "agent", Key: name}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var enabled, raw int
	var createdAt string
	if err := row.Scan(&a.ID, &a.Name, &a.HashedKey, &a.KeyPrefix, &a.Bio, &a.WebhookURL, &a.WebhookTok, &enabled, &raw, &createdAt); err != nil {
		return nil, err
	}
	a.Enabled = enabled != 0
	a.RawResults = raw != 0
	t, err := parseISO(createdAt)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = t
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
