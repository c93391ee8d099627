package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/agentgate/agentgate/pkg/models"
)

func (s *SQLiteStore) CreateQueueEntry(ctx context.Context, e *models.QueueEntry) error {
	reqJSON, err := json.Marshal(e.Requests)
	if err != nil {
		return err
	}
	resJSON, err := json.Marshal(e.Results)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queue_entries (id, service, account_name, requests_json, comment, submitted_by, submitted_at, status, reviewed_at, reviewed_by, rejection_reason, completed_at, results_json, auto_approved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Service, e.AccountName, string(reqJSON), e.Comment, e.SubmittedBy, formatISO(e.SubmittedAt), string(e.Status),
		nullableISO(e.ReviewedAt), e.ReviewedBy, e.RejectionReason, nullableISO(e.CompletedAt), string(resJSON), boolToInt(e.AutoApproved))
	return err
}

func (s *SQLiteStore) GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service, account_name, requests_json, comment, submitted_by, submitted_at, status, reviewed_at, reviewed_by, rejection_reason, completed_at, results_json, auto_approved
		FROM queue_entries WHERE id = ?`, id)
	e, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "queue entry", Key: id}
	}
	return e, err
}

// UpdateQueueEntry performs a compare-and-swap on status, implementing the
// status transition guard: concurrent approve/withdraw races resolve so that
// exactly one caller's update matches rows affected == 1.
func (s *SQLiteStore) UpdateQueueEntry(ctx context.Context, e *models.QueueEntry, fromStatus models.QueueStatus) error {
	resJSON, err := json.Marshal(e.Results)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET status=?, reviewed_at=?, reviewed_by=?, rejection_reason=?, completed_at=?, results_json=?, auto_approved=?
		WHERE id = ? AND status = ?`,
		string(e.Status), nullableISO(e.ReviewedAt), e.ReviewedBy, e.RejectionReason, nullableISO(e.CompletedAt), string(resJSON), boolToInt(e.AutoApproved),
		e.ID, string(fromStatus))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, getErr := s.GetQueueEntry(ctx, e.ID)
		if getErr != nil {
			return getErr
		}
		return &ErrIllegalState{Entity: "queue entry", Wanted: string(fromStatus), Current: string(current.Status)}
	}
	return nil
}

func (s *SQLiteStore) ListQueueEntries(ctx context.Context, filter QueueFilter) ([]models.QueueEntry, error) {
	query := `SELECT id, service, account_name, requests_json, comment, submitted_by, submitted_at, status, reviewed_at, reviewed_by, rejection_reason, completed_at, results_json, auto_approved FROM queue_entries WHERE 1=1`
	var args []interface{}
	if filter.SubmittedBy != "" {
		query += ` AND submitted_by = ? COLLATE NOCASE`
		args = append(args, filter.SubmittedBy)
	}
	if filter.Service != "" {
		query += ` AND service = ?`
		args = append(args, filter.Service)
	}
	if filter.AccountName != "" {
		query += ` AND account_name = ?`
		args = append(args, filter.AccountName)
	}
	query += ` ORDER BY submitted_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteQueueEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "queue entry", Key: id}
	}
	return nil
}

func (s *SQLiteStore) CreateQueueWarning(ctx context.Context, w *models.QueueWarning) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO queue_warnings (id, queue_id, warned_by, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.QueueID, w.WarnedBy, w.Message, formatISO(w.CreatedAt))
	return err
}

func (s *SQLiteStore) ListQueueWarnings(ctx context.Context, queueID string) ([]models.QueueWarning, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, queue_id, warned_by, message, created_at FROM queue_warnings WHERE queue_id = ? ORDER BY created_at`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueueWarning
	for rows.Next() {
		var w models.QueueWarning
		var createdAt string
		if err := rows.Scan(&w.ID, &w.QueueID, &w.WarnedBy, &w.Message, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseISO(createdAt)
		if err != nil {
			return nil, err
		}
		w.CreatedAt = t
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var reqJSON, resJSON, submittedAt string
	var reviewedAt, completedAt sql.NullString
	var autoApproved int
	if err := row.Scan(&e.ID, &e.Service, &e.AccountName, &reqJSON, &e.Comment, &e.SubmittedBy, &submittedAt,
		&e.Status, &reviewedAt, &e.ReviewedBy, &e.RejectionReason, &completedAt, &resJSON, &autoApproved); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reqJSON), &e.Requests); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resJSON), &e.Results); err != nil {
		return nil, err
	}
	t, err := parseISO(submittedAt)
	if err != nil {
		return nil, err
	}
	e.SubmittedAt = t
	e.AutoApproved = autoApproved != 0
	if reviewedAt.Valid {
		rt, err := parseISO(reviewedAt.String)
		if err != nil {
			return nil, err
		}
		e.ReviewedAt = &rt
	}
	if completedAt.Valid {
		ct, err := parseISO(completedAt.String)
		if err != nil {
			return nil, err
		}
		e.CompletedAt = &ct
	}
	return &e, nil
}
