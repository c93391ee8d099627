package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/agentgate/agentgate/pkg/models"
)

// CreateMemento writes the memento and its keyword-stem rows atomically: a
// memento with no matching stems is still useful to recall by id, but it
// must never be partially indexed.
func (s *SQLiteStore) CreateMemento(ctx context.Context, m *models.Memento, stems []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO mementos (id, agent_id, model, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, m.Model, m.Role, m.Content, formatISO(m.CreatedAt)); err != nil {
		return err
	}
	for _, stem := range stems {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memento_keywords (memento_id, stem) VALUES (?, ?)`, m.ID, stem); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMementosByIDs(ctx context.Context, agentID string, ids []string) ([]models.Memento, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, agentID)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT id, agent_id, model, role, content, created_at FROM mementos WHERE agent_id = ? AND id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMementos(rows)
}

func (s *SQLiteStore) ListRecentMementos(ctx context.Context, agentID string, limit int) ([]models.Memento, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_id, model, role, content, created_at FROM mementos WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMementos(rows)
}

// SearchMementosByStems ranks mementos by the number of distinct stems that
// intersect the query, descending, then by recency.
func (s *SQLiteStore) SearchMementosByStems(ctx context.Context, agentID string, stems []string, limit int) ([]models.MementoMatch, error) {
	if len(stems) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(stems))
	args := make([]interface{}, 0, len(stems)+2)
	for i, st := range stems {
		placeholders[i] = "?"
		args = append(args, st)
	}
	args = append(args, agentID, limit)

	query := fmt.Sprintf(`
		SELECT m.id, m.agent_id, m.model, m.role, m.content, m.created_at, COUNT(DISTINCT k.stem) AS match_count
		FROM mementos m
		JOIN memento_keywords k ON k.memento_id = m.id
		WHERE k.stem IN (%s) AND m.agent_id = ?
		GROUP BY m.id
		ORDER BY match_count DESC, m.created_at DESC
		LIMIT ?`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MementoMatch
	for rows.Next() {
		var m models.Memento
		var createdAt string
		var matchCount int
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Model, &m.Role, &m.Content, &createdAt, &matchCount); err != nil {
			return nil, err
		}
		t, err := parseISO(createdAt)
		if err != nil {
			return nil, err
		}
		m.CreatedAt = t
		preview := m.Content
		if len(preview) > 100 {
			preview = preview[:100]
		}
		out = append(out, models.MementoMatch{Memento: m, Preview: preview, MatchCount: matchCount})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListKeywords(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT k.stem FROM memento_keywords k
		JOIN mementos m ON m.id = k.memento_id
		WHERE m.agent_id = ? ORDER BY k.stem`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var stem string
		if err := rows.Scan(&stem); err != nil {
			return nil, err
		}
		out = append(out, stem)
	}
	return out, rows.Err()
}

func scanMementos(rows *sql.Rows) ([]models.Memento, error) {
	var out []models.Memento
	for rows.Next() {
		var m models.Memento
		var createdAt string
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Model, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseISO(createdAt)
		if err != nil {
			return nil, err
		}
		m.CreatedAt = t
		out = append(out, m)
	}
	return out, rows.Err()
}
