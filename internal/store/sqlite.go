package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded-relational-DB-backed Store implementation.
// All access goes through database/sql; sqlite's own file locking
// serializes writes, so this package needs no locking of its own.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if needed) the data directory and opens the single
// database file at path, in WAL mode so concurrent readers don't block
// the in-flight writer.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY under the
	// coarse-grained write locking sqlite performs.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }

// Migrate creates every table in the data model if it does not already
// exist. There is no external migration framework: the schema is small and
// additive, expressed as idempotent DDL.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	hashed_key    TEXT NOT NULL,
	key_prefix    TEXT NOT NULL,
	bio           TEXT NOT NULL DEFAULT '',
	webhook_url   TEXT NOT NULL DEFAULT '',
	webhook_token TEXT NOT NULL DEFAULT '',
	enabled       INTEGER NOT NULL DEFAULT 1,
	raw_results   INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	service      TEXT NOT NULL,
	account_name TEXT NOT NULL,
	data_json    TEXT NOT NULL,
	PRIMARY KEY (service, account_name)
);

CREATE TABLE IF NOT EXISTS service_access_policies (
	service      TEXT NOT NULL,
	account_name TEXT NOT NULL,
	mode         TEXT NOT NULL DEFAULT 'all',
	agent_list_json TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (service, account_name)
);

CREATE TABLE IF NOT EXISTS agent_bypass (
	service      TEXT NOT NULL,
	account_name TEXT NOT NULL,
	agent_name   TEXT NOT NULL,
	bypass_auth  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (service, account_name, agent_name)
);

CREATE TABLE IF NOT EXISTS queue_entries (
	id               TEXT PRIMARY KEY,
	service          TEXT NOT NULL,
	account_name     TEXT NOT NULL,
	requests_json    TEXT NOT NULL,
	comment          TEXT NOT NULL,
	submitted_by     TEXT NOT NULL,
	submitted_at     TEXT NOT NULL,
	status           TEXT NOT NULL,
	reviewed_at      TEXT,
	reviewed_by      TEXT NOT NULL DEFAULT '',
	rejection_reason TEXT NOT NULL DEFAULT '',
	completed_at     TEXT,
	results_json     TEXT NOT NULL DEFAULT '[]',
	auto_approved    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queue_submitted_by ON queue_entries(submitted_by);
CREATE INDEX IF NOT EXISTS idx_queue_service_account ON queue_entries(service, account_name);

CREATE TABLE IF NOT EXISTS queue_warnings (
	id         TEXT PRIMARY KEY,
	queue_id   TEXT NOT NULL REFERENCES queue_entries(id) ON DELETE CASCADE,
	warned_by  TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_warnings_queue_id ON queue_warnings(queue_id);

CREATE TABLE IF NOT EXISTS agent_messages (
	id               TEXT PRIMARY KEY,
	from_agent       TEXT NOT NULL,
	to_agent         TEXT NOT NULL,
	body             TEXT NOT NULL,
	status           TEXT NOT NULL,
	rejection_reason TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	delivered_at     TEXT,
	read_at          TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_to_agent ON agent_messages(to_agent);

CREATE TABLE IF NOT EXISTS broadcasts (
	id               TEXT PRIMARY KEY,
	from_agent       TEXT NOT NULL,
	body             TEXT NOT NULL,
	total_recipients INTEGER NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS broadcast_recipients (
	broadcast_id TEXT NOT NULL REFERENCES broadcasts(id) ON DELETE CASCADE,
	to_agent     TEXT NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (broadcast_id, to_agent)
);

CREATE TABLE IF NOT EXISTS mementos (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mementos_agent ON mementos(agent_id, created_at);

CREATE TABLE IF NOT EXISTS memento_keywords (
	memento_id TEXT NOT NULL REFERENCES mementos(id) ON DELETE CASCADE,
	stem       TEXT NOT NULL,
	PRIMARY KEY (memento_id, stem)
);
CREATE INDEX IF NOT EXISTS idx_keywords_stem ON memento_keywords(stem);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	agent_name  TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	last_seen   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_name);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Timestamps persist as space-separated date/time, UTC.
func nowISO() string { return formatISO(time.Now()) }

func formatISO(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05") }

func parseISO(s string) (time.Time, error) {
	return time.Parse("2006-01-02 15:04:05", s)
}

func nullableISO(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatISO(*t)
}
