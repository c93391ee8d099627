package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/agentgate/agentgate/pkg/models"
)

func (s *SQLiteStore) GetCredential(ctx context.Context, service, account string) (*models.Credential, error) {
	var dataJSON string
	err := s.db.QueryRowContext(ctx, `SELECT data_json FROM credentials WHERE service = ? AND account_name = ?`, service, account).Scan(&dataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "credential", Key: service + "/" + account}
	}
	if err != nil {
		return nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return nil, err
	}
	return &models.Credential{Service: service, AccountName: account, Data: data}, nil
}

func (s *SQLiteStore) PutCredential(ctx context.Context, cred *models.Credential) error {
	dataJSON, err := json.Marshal(cred.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (service, account_name, data_json) VALUES (?, ?, ?)
		ON CONFLICT(service, account_name) DO UPDATE SET data_json = excluded.data_json`,
		cred.Service, cred.AccountName, string(dataJSON))
	return err
}

func (s *SQLiteStore) DeleteCredential(ctx context.Context, service, account string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE service = ? AND account_name = ?`, service, account)
	return err
}
