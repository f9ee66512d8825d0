// Package pg implements the store interfaces (internal/store) against
// Postgres, for deployments that want session, memory, and cron state
// shared across more than one runtime process. It opens connections via
// database/sql using the pgx stdlib driver, with lib/pq kept available as
// a fallback driver name for connection strings that need it. Its stores
// create their tables with CREATE TABLE IF NOT EXISTS (EnsureSchema and the
// New*Store constructors); the versioned migrations/ set is applied with
// golang-migrate by the migrate subcommand, not by this package.
package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/nextlevelbuilder/pinchy/internal/sessions"
	"github.com/nextlevelbuilder/pinchy/internal/store"
)

// OpenDB opens a connection pool against dsn, using the pgx stdlib
// driver by default. PINCHY_PG_DRIVER=postgres switches to lib/pq for
// connection strings pgx's parser rejects.
func OpenDB(dsn string) (*sql.DB, error) {
	driver := "pgx"
	if v := os.Getenv("PINCHY_PG_DRIVER"); v != "" {
		driver = v
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS session_exchanges (
	ord BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	ts BIGINT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_session_exchanges_session ON session_exchanges(session_id, ord);

CREATE TABLE IF NOT EXISTS session_receipts (
	ord BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	ts BIGINT NOT NULL,
	call_id TEXT NOT NULL,
	name TEXT NOT NULL,
	args_preview TEXT,
	result_summary TEXT,
	duration_ms BIGINT,
	ok BOOLEAN
);
CREATE INDEX IF NOT EXISTS idx_session_receipts_session ON session_receipts(session_id, ord);

CREATE TABLE IF NOT EXISTS session_current (
	id SMALLINT PRIMARY KEY DEFAULT 1,
	session_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_index (
	ord BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	created_at BIGINT NOT NULL
);
`

// EnsureSchema creates the tables pg's stores need if they do not already
// exist. Deployments that prefer golang-migrate's versioned migrations can
// skip this and run their own migration set instead.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}

// SessionStore implements store.SessionStore against the tables above.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Append(id string, exchange sessions.Exchange) error {
	meta := exchange.Metadata
	if meta == nil {
		meta = json.RawMessage("null")
	}
	_, err := s.db.Exec(
		`INSERT INTO session_exchanges (session_id, ts, role, content, metadata) VALUES ($1,$2,$3,$4,$5)`,
		id, exchange.Timestamp, exchange.Role, exchange.Content, []byte(meta),
	)
	return err
}

func (s *SessionStore) AppendReceipt(id string, r sessions.Receipt) error {
	_, err := s.db.Exec(
		`INSERT INTO session_receipts (session_id, ts, call_id, name, args_preview, result_summary, duration_ms, ok)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		id, r.Timestamp, r.CallID, r.Name, r.ArgsPreview, r.ResultSummary, r.DurationMS, r.OK,
	)
	return err
}

func (s *SessionStore) LoadHistory(id string, limit int) ([]sessions.Exchange, error) {
	query := `SELECT ts, role, content, metadata FROM session_exchanges WHERE session_id=$1 ORDER BY ord`
	if limit > 0 {
		query = fmt.Sprintf(`SELECT ts, role, content, metadata FROM (
			SELECT ts, role, content, metadata, ord FROM session_exchanges
			WHERE session_id=$1 ORDER BY ord DESC LIMIT %d
		) t ORDER BY ord`, limit)
	}
	rows, err := s.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []sessions.Exchange
	for rows.Next() {
		var e sessions.Exchange
		var meta []byte
		if err := rows.Scan(&e.Timestamp, &e.Role, &e.Content, &meta); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		if len(meta) > 0 && string(meta) != "null" {
			e.Metadata = json.RawMessage(meta)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SessionStore) LoadReceipts(id string, limit int) ([]sessions.Receipt, error) {
	query := `SELECT ts, call_id, name, args_preview, result_summary, duration_ms, ok FROM session_receipts WHERE session_id=$1 ORDER BY ord`
	if limit > 0 {
		query = fmt.Sprintf(`SELECT ts, call_id, name, args_preview, result_summary, duration_ms, ok FROM (
			SELECT ts, call_id, name, args_preview, result_summary, duration_ms, ok, ord FROM session_receipts
			WHERE session_id=$1 ORDER BY ord DESC LIMIT %d
		) t ORDER BY ord`, limit)
	}
	rows, err := s.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []sessions.Receipt
	for rows.Next() {
		var r sessions.Receipt
		if err := rows.Scan(&r.Timestamp, &r.CallID, &r.Name, &r.ArgsPreview, &r.ResultSummary, &r.DurationMS, &r.OK); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SessionStore) SetCurrent(id string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_current (id, session_id) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET session_id = EXCLUDED.session_id`,
		id,
	)
	return err
}

func (s *SessionStore) LoadCurrent() (string, bool) {
	var id string
	err := s.db.QueryRow(`SELECT session_id FROM session_current WHERE id=1`).Scan(&id)
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (s *SessionStore) ClearCurrent() error {
	_, err := s.db.Exec(`DELETE FROM session_current WHERE id=1`)
	return err
}

func (s *SessionStore) AppendIndexEntry(entry sessions.IndexEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO session_index (session_id, agent_id, channel, created_at) VALUES ($1,$2,$3,$4)`,
		entry.SessionID, entry.AgentID, entry.Channel, entry.CreatedAt,
	)
	return err
}

func (s *SessionStore) NewSession(agentID, channel string, now int64) (string, error) {
	id := newUUID()
	if err := s.SetCurrent(id); err != nil {
		return "", err
	}
	if err := s.AppendIndexEntry(sessions.IndexEntry{SessionID: id, AgentID: agentID, Channel: channel, CreatedAt: now}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SessionStore) ResolveSessionID(explicit, agentID, channel string, now int64) (string, bool, error) {
	if explicit != "" {
		return explicit, false, nil
	}
	if cur, ok := s.LoadCurrent(); ok {
		return cur, false, nil
	}
	id, err := s.NewSession(agentID, channel, now)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *SessionStore) List() ([]sessions.Info, error) {
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*), MAX(ts) FROM session_exchanges GROUP BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []sessions.Info
	for rows.Next() {
		var info sessions.Info
		if err := rows.Scan(&info.Key, &info.MessageCount, &info.Updated); err != nil {
			return nil, fmt.Errorf("scan session info: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func newUUID() string { return uuid.NewString() }

var _ store.SessionStore = (*SessionStore)(nil)
