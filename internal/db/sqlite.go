package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// schema defines the tables for the investigation persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS investigations (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL DEFAULT 'general',
    state           TEXT NOT NULL DEFAULT 'created',
    user_id         TEXT NOT NULL DEFAULT '',
    correlation_id  TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL,
    conclusion      TEXT NOT NULL DEFAULT '',
    confidence      INTEGER NOT NULL DEFAULT 0,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_investigations_state ON investigations(state);
CREATE INDEX IF NOT EXISTS idx_investigations_created_at ON investigations(created_at DESC);

CREATE TABLE IF NOT EXISTS investigation_findings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    investigation_id TEXT NOT NULL,
    statement TEXT NOT NULL,
    evidence TEXT,
    confidence INTEGER DEFAULT 70,
    severity TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (investigation_id) REFERENCES investigations(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_findings_investigation_id ON investigation_findings(investigation_id);

CREATE TABLE IF NOT EXISTS investigation_tool_calls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    investigation_id TEXT NOT NULL,
    tool_name TEXT NOT NULL,
    args TEXT,
    result TEXT,
    turn_index INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (investigation_id) REFERENCES investigations(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_investigation_id ON investigation_tool_calls(investigation_id);

CREATE TABLE IF NOT EXISTS investigation_turns (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    investigation_id    TEXT NOT NULL REFERENCES investigations(id) ON DELETE CASCADE,
    role                TEXT NOT NULL,
    content             TEXT NOT NULL,
    token_count         INTEGER NOT NULL DEFAULT 0,
    timestamp           DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_investigation ON investigation_turns(investigation_id, timestamp ASC);

CREATE TABLE IF NOT EXISTS audit_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id  TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    resource        TEXT NOT NULL DEFAULT '',
    action          TEXT NOT NULL DEFAULT '',
    result          TEXT NOT NULL DEFAULT '',
    user_id         TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}',
    timestamp       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_events(resource);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
`,
	},
	// Migration 2: budget_limits + token_usage
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS budget_limits (
    user_id TEXT PRIMARY KEY,
    limit_usd REAL NOT NULL DEFAULT 0.0,
    period_start DATETIME NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS token_usage (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    investigation_id TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0.0,
    recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_token_usage_user_date ON token_usage(user_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_token_usage_investigation ON token_usage(investigation_id);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// Enable foreign-key constraints.
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Investigations ───────────────────────────────────────────────────────────

func (s *sqliteStore) SaveInvestigation(ctx context.Context, rec *InvestigationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO investigations(id, type, state, user_id, correlation_id, description, conclusion, confidence, metadata, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            state       = excluded.state,
            conclusion  = excluded.conclusion,
            confidence  = excluded.confidence,
            metadata    = excluded.metadata,
            updated_at  = excluded.updated_at
    `,
		rec.ID, rec.Type, rec.State, rec.UserID, rec.CorrelationID,
		rec.Description, rec.Conclusion, rec.Confidence, rec.Metadata,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert investigation: %w", err)
	}

	// findings
	if _, err := tx.ExecContext(ctx, `DELETE FROM investigation_findings WHERE investigation_id=?`, rec.ID); err != nil {
		return fmt.Errorf("delete findings: %w", err)
	}
	for _, f := range rec.Findings {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO investigation_findings(investigation_id, statement, evidence, confidence, severity, timestamp)
            VALUES(?,?,?,?,?,?)
        `, rec.ID, f.Statement, f.Evidence, f.Confidence, f.Severity, f.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	// tool calls
	if _, err := tx.ExecContext(ctx, `DELETE FROM investigation_tool_calls WHERE investigation_id=?`, rec.ID); err != nil {
		return fmt.Errorf("delete tool_calls: %w", err)
	}
	for _, tc := range rec.ToolCalls {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO investigation_tool_calls(investigation_id, tool_name, args, result, turn_index, timestamp)
            VALUES(?,?,?,?,?,?)
        `, rec.ID, tc.ToolName, tc.Args, tc.Result, tc.TurnIndex, tc.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("insert tool_call: %w", err)
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) GetInvestigation(ctx context.Context, id string) (*InvestigationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,type,state,user_id,correlation_id,description,conclusion,confidence,metadata,created_at,updated_at FROM investigations WHERE id=?`, id)
	rec, err := scanInvestigation(row)
	if err != nil {
		return nil, err
	}

	// findings
	fRows, err := s.db.QueryContext(ctx, `SELECT statement,evidence,confidence,severity,timestamp FROM investigation_findings WHERE investigation_id=? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer fRows.Close()
	for fRows.Next() {
		var f FindingRecord
		var ts string
		f.InvestigationID = id
		if err := fRows.Scan(&f.Statement, &f.Evidence, &f.Confidence, &f.Severity, &ts); err != nil {
			return nil, err
		}
		f.Timestamp, _ = parseTime(ts)
		rec.Findings = append(rec.Findings, f)
	}

	// tool calls
	tcRows, err := s.db.QueryContext(ctx, `SELECT tool_name,args,result,turn_index,timestamp FROM investigation_tool_calls WHERE investigation_id=? ORDER BY turn_index ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query tool_calls: %w", err)
	}
	defer tcRows.Close()
	for tcRows.Next() {
		var tc ToolCallRecord
		var ts string
		tc.InvestigationID = id
		if err := tcRows.Scan(&tc.ToolName, &tc.Args, &tc.Result, &tc.TurnIndex, &ts); err != nil {
			return nil, err
		}
		tc.Timestamp, _ = parseTime(ts)
		rec.ToolCalls = append(rec.ToolCalls, tc)
	}

	return rec, nil
}

func (s *sqliteStore) ListInvestigations(ctx context.Context, limit, offset int) ([]*InvestigationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,type,state,user_id,correlation_id,description,conclusion,confidence,metadata,created_at,updated_at FROM investigations ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*InvestigationRecord
	for rows.Next() {
		rec, err := scanInvestigation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) DeleteInvestigation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM investigations WHERE id=?`, id)
	return err
}

func (s *sqliteStore) AppendTurn(ctx context.Context, turn *TurnRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO investigation_turns(investigation_id, role, content, token_count, timestamp)
        VALUES(?,?,?,?,?)
    `,
		turn.InvestigationID, turn.Role, turn.Content, turn.TokenCount, turn.Timestamp.UTC(),
	)
	return err
}

func (s *sqliteStore) GetTurns(ctx context.Context, investigationID string, limit int) ([]*TurnRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,investigation_id,role,content,token_count,timestamp FROM investigation_turns WHERE investigation_id=? ORDER BY timestamp ASC, id ASC LIMIT ?`,
		investigationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*TurnRecord
	for rows.Next() {
		turn := &TurnRecord{}
		var ts string
		if err := rows.Scan(&turn.ID, &turn.InvestigationID, &turn.Role, &turn.Content, &turn.TokenCount, &ts); err != nil {
			return nil, err
		}
		turn.Timestamp, _ = parseTime(ts)
		result = append(result, turn)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvestigation(row rowScanner) (*InvestigationRecord, error) {
	rec := &InvestigationRecord{}
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.Type, &rec.State, &rec.UserID, &rec.CorrelationID,
		&rec.Description, &rec.Conclusion, &rec.Confidence, &rec.Metadata, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	rec.UpdatedAt, _ = parseTime(updatedAt)
	return rec, nil
}

// ─── Audit events ─────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAuditEvent(ctx context.Context, rec *AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_events(correlation_id, event_type, description, resource, action, result, user_id, metadata, timestamp)
        VALUES(?,?,?,?,?,?,?,?,?)
    `,
		rec.CorrelationID, rec.EventType, rec.Description, rec.Resource, rec.Action,
		rec.Result, rec.UserID, rec.Metadata, rec.Timestamp.UTC(),
	)
	return err
}

func (s *sqliteStore) QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error) {
	query := `SELECT id,correlation_id,event_type,description,resource,action,result,user_id,metadata,timestamp FROM audit_events WHERE 1=1`
	args := []any{}

	if q.Resource != "" {
		query += ` AND resource = ?`
		args = append(args, q.Resource)
	}
	if q.Action != "" {
		query += ` AND action = ?`
		args = append(args, q.Action)
	}
	if q.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY timestamp DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AuditRecord
	for rows.Next() {
		rec := &AuditRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.EventType, &rec.Description,
			&rec.Resource, &rec.Action, &rec.Result, &rec.UserID, &rec.Metadata, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
