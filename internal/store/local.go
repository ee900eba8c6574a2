package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/anthropics/chronicle/internal/model"
)

// Local is the embedded SQLite fallback backend (spec §4.3, "Local
// backend"). Schema and pragma string are generalized from GoClode's
// core.Engine: same journal_mode/synchronous/foreign_keys/busy_timeout
// pragmas, same IF NOT EXISTS schema-string convention, but chronicle's
// own session/event tables and, per spec §4.3, deliberately no CHECK
// constraint on event_type. Event types are checked in Go instead:
// Writer.WriteEvent rejects an event whose type fails Event.Validate
// before either backend is written.
type Local struct {
	db   *sql.DB
	path string
}

// OpenLocal opens (creating if absent) the local SQLite database at
// path and ensures its schema exists.
func OpenLocal(path string) (*Local, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping local database: %w", err)
	}
	l := &Local{db: db, path: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init local schema: %w", err)
	}
	return l, nil
}

func (l *Local) initSchema() error {
	_, err := l.db.Exec(localSchema)
	return err
}

func (l *Local) Name() string { return "local" }

// UpsertSession implements the insert-then-merge algorithm from spec
// §4.3: try a fresh insert with a client-generated id; on conflict with
// an existing claude_session_id row, merge non-destructively and update
// only what changed.
func (l *Local) UpsertSession(ctx context.Context, claudeSessionID string, attrs SessionAttrs) (string, error) {
	newID := uuid.NewString()
	metaJSON, err := json.Marshal(attrs.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO chronicle_sessions (id, claude_session_id, project_path, git_branch, start_time, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(claude_session_id) DO NOTHING
	`, newID, claudeSessionID, nullIfEmpty(attrs.ProjectPath), nullIfEmpty(attrs.GitBranch), attrs.StartTime.UTC(), string(metaJSON), time.Now().UTC())
	if err != nil {
		return "", err
	}

	row := l.db.QueryRowContext(ctx, `
		SELECT id, project_path, git_branch, metadata FROM chronicle_sessions WHERE claude_session_id = ?
	`, claudeSessionID)
	var (
		existingID, existingProject, existingBranch, existingMetaJSON sql.NullString
	)
	if err := row.Scan(&existingID, &existingProject, &existingBranch, &existingMetaJSON); err != nil {
		return "", fmt.Errorf("select upserted session: %w", err)
	}

	mergedMeta, changed := mergeSessionFields(existingProject.String, existingBranch.String, existingMetaJSON.String, attrs)
	if changed {
		_, err = l.db.ExecContext(ctx, `
			UPDATE chronicle_sessions
			SET project_path = COALESCE(NULLIF(project_path, ''), ?),
			    git_branch = COALESCE(NULLIF(git_branch, ''), ?),
			    metadata = ?
			WHERE id = ?
		`, attrs.ProjectPath, attrs.GitBranch, mergedMeta, existingID.String)
		if err != nil {
			return "", fmt.Errorf("update merged session: %w", err)
		}
	}

	return existingID.String, nil
}

func (l *Local) CloseSession(ctx context.Context, sessionID string, endTime time.Time) error {
	_, err := l.db.ExecContext(ctx, `UPDATE chronicle_sessions SET end_time = ? WHERE id = ? AND end_time IS NULL`, endTime.UTC(), sessionID)
	return err
}

// InsertEvent inserts a single event row. event_type has no CHECK
// constraint, per spec §4.3.
func (l *Local) InsertEvent(ctx context.Context, sessionID string, ev *model.Event) (string, error) {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO chronicle_events (id, session_id, event_type, timestamp, tool_name, duration_ms, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, sessionID, string(ev.EventType), ev.Timestamp.UTC(), nullIfEmpty(ev.ToolName), ev.DurationMs, string(metaJSON), time.Now().UTC())
	if err != nil {
		return "", err
	}

	if ev.IsTermination() {
		if err := l.CloseSession(ctx, sessionID, ev.Timestamp); err != nil {
			return "", fmt.Errorf("mark session terminated: %w", err)
		}
	}

	return id, nil
}

func (l *Local) Close() error {
	_, _ = l.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return l.db.Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const localSchema = `
CREATE TABLE IF NOT EXISTS chronicle_sessions (
	id TEXT PRIMARY KEY,
	claude_session_id TEXT NOT NULL UNIQUE,
	project_path TEXT,
	git_branch TEXT,
	start_time TIMESTAMP NOT NULL,
	end_time TIMESTAMP,
	metadata TEXT DEFAULT '{}',
	created_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS chronicle_events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	tool_name TEXT,
	duration_ms INTEGER,
	metadata TEXT DEFAULT '{}',
	created_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),

	FOREIGN KEY(session_id) REFERENCES chronicle_sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chronicle_events_session ON chronicle_events(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_chronicle_events_type ON chronicle_events(event_type);
`
