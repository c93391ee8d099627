package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/agentgate/agentgate/pkg/models"
)

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	var createdAt, lastSeen string
	err := s.db.QueryRowContext(ctx, `SELECT id, agent_name, created_at, last_seen FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.AgentName, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt, err = parseISO(createdAt)
	if err != nil {
		return nil, err
	}
	sess.LastSeenAt, err = parseISO(lastSeen)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, agent_name, created_at, last_seen) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.AgentName, formatISO(sess.CreatedAt), formatISO(sess.LastSeenAt))
	return err
}

func (s *SQLiteStore) TouchSession(ctx context.Context, id string, lastSeen time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen = ? WHERE id = ?`, formatISO(lastSeen), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "session", Key: id}
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ListExpiredSessions(ctx context.Context, olderThan time.Time) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_name, created_at, last_seen FROM sessions WHERE last_seen < ?`, formatISO(olderThan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *SQLiteStore) ListAgentSessions(ctx context.Context, agentName string) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_name, created_at, last_seen FROM sessions WHERE agent_name = ? COLLATE NOCASE`, agentName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]models.Session, error) {
	var out []models.Session
	for rows.Next() {
		var sess models.Session
		var createdAt, lastSeen string
		var err error
		if err = rows.Scan(&sess.ID, &sess.AgentName, &createdAt, &lastSeen); err != nil {
			return nil, err
		}
		if sess.CreatedAt, err = parseISO(createdAt); err != nil {
			return nil, err
		}
		if sess.LastSeenAt, err = parseISO(lastSeen); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
