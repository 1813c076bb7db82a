// Package store persists parley's local state in SQLite: a cache of
// conversation metadata for instant list rendering before the first server
// refresh, and an append-only log of lifecycle events for troubleshooting.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"parley/pkg/chat"

	_ "modernc.org/sqlite" // SQLite driver
)

// SchemaDDL defines the SQLite schema for the parley state database.
// Tables: sessions (conversation metadata cache), events (lifecycle log).
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Cached conversation metadata, mirroring the server's session list
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    model TEXT NOT NULL,
    pinned INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    first_message_at TEXT,
    last_message_at TEXT,
    message_count INTEGER NOT NULL DEFAULT 0,
    tools TEXT NOT NULL DEFAULT '{}'
);

-- Lifecycle event log: selection, creation, sends, failures
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    kind TEXT NOT NULL,
    session_id TEXT,
    detail TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS events_kind ON events(kind);
`

// Event is one row of the lifecycle log.
type Event struct {
	ID        int64
	Kind      string
	SessionID string
	Detail    string
	CreatedAt time.Time
}

// Store wraps the state database. Safe for concurrent use; database/sql
// serializes access and the connection runs WAL with a busy timeout.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database at path and applies
// production-safe defaults: WAL journal mode and a 5-second busy timeout.
// The schema is applied idempotently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema to %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection. Safe to call multiple times.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for callers that need raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Session cache ---

// UpsertSession writes one conversation's metadata. Provisional ids are
// never persisted: they are client-side correlation state, meaningless
// across restarts.
func (s *Store) UpsertSession(ctx context.Context, sess chat.Session) error {
	if !chat.IsDurableID(sess.ID) {
		return nil
	}

	tools, err := json.Marshal(sess.ToolsEnabled)
	if err != nil {
		return fmt.Errorf("marshal tools for %s: %w", sess.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, model, pinned, created_at, updated_at,
		                      first_message_at, last_message_at, message_count, tools)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			pinned = excluded.pinned,
			updated_at = excluded.updated_at,
			first_message_at = excluded.first_message_at,
			last_message_at = excluded.last_message_at,
			message_count = excluded.message_count,
			tools = excluded.tools`,
		sess.ID, sess.Title, sess.Model, boolToInt(sess.Pinned),
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
		nullableTime(sess.FirstMessageAt), nullableTime(sess.LastMessageAt),
		sess.MessageCount, string(tools))
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// ReplaceSessions swaps the whole cache for the given list in one
// transaction, dropping rows for conversations the server no longer lists.
func (s *Store) ReplaceSessions(ctx context.Context, list []chat.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions (id, title, model, pinned, created_at, updated_at,
		                      first_message_at, last_message_at, message_count, tools)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sess := range list {
		if !chat.IsDurableID(sess.ID) {
			continue
		}
		tools, err := json.Marshal(sess.ToolsEnabled)
		if err != nil {
			return fmt.Errorf("marshal tools for %s: %w", sess.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			sess.ID, sess.Title, sess.Model, boolToInt(sess.Pinned),
			formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
			nullableTime(sess.FirstMessageAt), nullableTime(sess.LastMessageAt),
			sess.MessageCount, string(tools)); err != nil {
			return fmt.Errorf("insert session %s: %w", sess.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// DeleteSession drops one conversation from the cache.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// LoadSessions returns the cached conversation list, pinned first, most
// recently updated first within each group.
func (s *Store) LoadSessions(ctx context.Context) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, model, pinned, created_at, updated_at,
		       first_message_at, last_message_at, message_count, tools
		FROM sessions
		ORDER BY pinned DESC, updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []chat.Session
	for rows.Next() {
		var (
			sess         chat.Session
			pinned       int
			created, upd string
			first, last  sql.NullString
			toolsJSON    string
		)
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Model, &pinned,
			&created, &upd, &first, &last, &sess.MessageCount, &toolsJSON); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Pinned = pinned != 0
		if sess.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if sess.UpdatedAt, err = parseTime(upd); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		if first.Valid && first.String != "" {
			if sess.FirstMessageAt, err = parseTime(first.String); err != nil {
				return nil, fmt.Errorf("parse first_message_at: %w", err)
			}
		}
		if last.Valid && last.String != "" {
			if sess.LastMessageAt, err = parseTime(last.String); err != nil {
				return nil, fmt.Errorf("parse last_message_at: %w", err)
			}
		}
		if toolsJSON != "" && toolsJSON != "{}" {
			if err := json.Unmarshal([]byte(toolsJSON), &sess.ToolsEnabled); err != nil {
				return nil, fmt.Errorf("unmarshal tools for %s: %w", sess.ID, err)
			}
		}
		sess.Lifecycle = chat.LifecycleActive
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// --- Event log ---

// AppendEvent records one lifecycle event. Satisfies the orchestrator's
// EventLog interface.
func (s *Store) AppendEvent(ctx context.Context, kind, sessionID, detail string) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO events (kind, session_id, detail) VALUES (?, ?, ?)",
		kind, sessionID, detail); err != nil {
		return fmt.Errorf("append event %s: %w", kind, err)
	}
	return nil
}

// RecentEvents returns the newest events first. kind filters when non-empty;
// limit 0 means no limit.
func (s *Store) RecentEvents(ctx context.Context, kind string, limit int) ([]Event, error) {
	query := "SELECT id, kind, COALESCE(session_id, ''), COALESCE(detail, ''), created_at FROM events WHERE 1=1"
	var args []any
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.SessionID, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse event created_at: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// PruneEvents keeps only the newest keep events, dropping the rest.
func (s *Store) PruneEvents(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events rows: %w", err)
	}
	return n, nil
}

// --- Time and scan helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// parseTime accepts both RFC3339 (our writes) and SQLite's datetime('now')
// format (event defaults).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
