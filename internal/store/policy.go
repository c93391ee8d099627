package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/agentgate/agentgate/pkg/models"
)

func (s *SQLiteStore) GetPolicy(ctx context.Context, service, account string) (*models.ServiceAccessPolicy, error) {
	var mode, listJSON string
	err := s.db.QueryRowContext(ctx, `SELECT mode, agent_list_json FROM service_access_policies WHERE service = ? AND account_name = ?`, service, account).Scan(&mode, &listJSON)
	if errors.Is(err, sql.ErrNoRows) {
		// Default mode is "all" — no explicit policy row means unrestricted.
		return &models.ServiceAccessPolicy{Service: service, AccountName: account, Mode: models.PolicyAll}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal([]byte(listJSON), &list); err != nil {
		return nil, err
	}
	return &models.ServiceAccessPolicy{Service: service, AccountName: account, Mode: models.PolicyMode(mode), AgentList: list}, nil
}

func (s *SQLiteStore) PutPolicy(ctx context.Context, policy *models.ServiceAccessPolicy) error {
	listJSON, err := json.Marshal(policy.AgentList)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_access_policies (service, account_name, mode, agent_list_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(service, account_name) DO UPDATE SET mode = excluded.mode, agent_list_json = excluded.agent_list_json`,
		policy.Service, policy.AccountName, string(policy.Mode), string(listJSON))
	return err
}

func (s *SQLiteStore) GetBypass(ctx context.Context, service, account, agent string) (*models.AgentBypass, error) {
	var bypass int
	err := s.db.QueryRowContext(ctx, `SELECT bypass_auth FROM agent_bypass WHERE service = ? AND account_name = ? AND agent_name = ? COLLATE NOCASE`, service, account, agent).Scan(&bypass)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.AgentBypass{Service: service, AccountName: account, AgentName: agent, BypassAuth: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.AgentBypass{Service: service, AccountName: account, AgentName: agent, BypassAuth: bypass != 0}, nil
}

func (s *SQLiteStore) PutBypass(ctx context.Context, bypass *models.AgentBypass) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_bypass (service, account_name, agent_name, bypass_auth) VALUES (?, ?, ?, ?)
		ON CONFLICT(service, account_name, agent_name) DO UPDATE SET bypass_auth = excluded.bypass_auth`,
		bypass.Service, bypass.AccountName, bypass.AgentName, boolToInt(bypass.BypassAuth))
	return err
}
