package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/agentgate/agentgate/pkg/models"
)

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *models.AgentMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_messages (id, from_agent, to_agent, body, status, rejection_reason, created_at, delivered_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FromAgent, m.ToAgent, m.Body, string(m.Status), m.RejectionReason, formatISO(m.CreatedAt),
		nullableISO(m.DeliveredAt), nullableISO(m.ReadAt))
	return err
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.AgentMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, from_agent, to_agent, body, status, rejection_reason, created_at, delivered_at, read_at FROM agent_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "message", Key: id}
	}
	return m, err
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, m *models.AgentMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_messages SET status=?, rejection_reason=?, delivered_at=?, read_at=? WHERE id = ?`,
		string(m.Status), m.RejectionReason, nullableISO(m.DeliveredAt), nullableISO(m.ReadAt), m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "message", Key: m.ID}
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, toAgent string, unreadOnly bool) ([]models.AgentMessage, error) {
	query := `SELECT id, from_agent, to_agent, body, status, rejection_reason, created_at, delivered_at, read_at FROM agent_messages WHERE to_agent = ? COLLATE NOCASE AND status = 'delivered'`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, toAgent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AgentMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListPendingMessages(ctx context.Context) ([]models.AgentMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, from_agent, to_agent, body, status, rejection_reason, created_at, delivered_at, read_at FROM agent_messages WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AgentMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*models.AgentMessage, error) {
	var m models.AgentMessage
	var createdAt string
	var deliveredAt, readAt sql.NullString
	if err := row.Scan(&m.ID, &m.FromAgent, &m.ToAgent, &m.Body, &m.Status, &m.RejectionReason, &createdAt, &deliveredAt, &readAt); err != nil {
		return nil, err
	}
	t, err := parseISO(createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = t
	if deliveredAt.Valid {
		dt, err := parseISO(deliveredAt.String)
		if err != nil {
			return nil, err
		}
		m.DeliveredAt = &dt
	}
	if readAt.Valid {
		rt, err := parseISO(readAt.String)
		if err != nil {
			return nil, err
		}
		m.ReadAt = &rt
	}
	return &m, nil
}

func (s *SQLiteStore) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO broadcasts (id, from_agent, body, total_recipients, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.FromAgent, b.Body, b.TotalRecipients, formatISO(b.CreatedAt))
	return err
}

func (s *SQLiteStore) GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error) {
	var b models.Broadcast
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, from_agent, body, total_recipients, created_at FROM broadcasts WHERE id = ?`, id).
		Scan(&b.ID, &b.FromAgent, &b.Body, &b.TotalRecipients, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "broadcast", Key: id}
	}
	if err != nil {
		return nil, err
	}
	t, err := parseISO(createdAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = t
	return &b, nil
}

func (s *SQLiteStore) ListBroadcasts(ctx context.Context, fromAgent string) ([]models.Broadcast, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, from_agent, body, total_recipients, created_at FROM broadcasts WHERE from_agent = ? COLLATE NOCASE ORDER BY created_at DESC`, fromAgent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Broadcast
	for rows.Next() {
		var b models.Broadcast
		var createdAt string
		if err := rows.Scan(&b.ID, &b.FromAgent, &b.Body, &b.TotalRecipients, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseISO(createdAt)
		if err != nil {
			return nil, err
		}
		b.CreatedAt = t
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateBroadcastRecipient(ctx context.Context, r *models.BroadcastRecipient) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO broadcast_recipients (broadcast_id, to_agent, status, error) VALUES (?, ?, ?, ?)`,
		r.BroadcastID, r.ToAgent, string(r.Status), r.Error)
	return err
}

func (s *SQLiteStore) ListBroadcastRecipients(ctx context.Context, broadcastID string) ([]models.BroadcastRecipient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT broadcast_id, to_agent, status, error FROM broadcast_recipients WHERE broadcast_id = ?`, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BroadcastRecipient
	for rows.Next() {
		var r models.BroadcastRecipient
		if err := rows.Scan(&r.BroadcastID, &r.ToAgent, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
