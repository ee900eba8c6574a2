package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/anthropics/chronicle/internal/model"
)

// Primary is the remote Postgres backend (spec §4.3, "Primary
// backend"). It uses pgx/v5's database/sql adapter rather than a raw
// pgxpool because chronicle's writes are simple statement-per-call and
// database/sql's pooling and context handling already cover it; the
// realtime package reaches for a raw pgxpool only where LISTEN/NOTIFY
// needs pgx's native connection.
//
// Schema carries the CHECK constraint on event_type that the local
// backend intentionally omits (spec §4.3): a malformed or future event
// type is a hard rejection here. Writer.WriteEvent already rejects such
// an event through Event.Validate before either backend is written.
type Primary struct {
	db *sql.DB
}

// OpenPrimary connects to the remote database identified by url
// (postgres://...) and ensures its schema exists.
func OpenPrimary(ctx context.Context, url string) (*Primary, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open primary database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping primary database: %w", err)
	}

	p := &Primary{db: db}
	if err := p.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init primary schema: %w", err)
	}
	return p, nil
}

func (p *Primary) initSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, primarySchema)
	return err
}

func (p *Primary) Name() string { return "primary" }

func (p *Primary) UpsertSession(ctx context.Context, claudeSessionID string, attrs SessionAttrs) (string, error) {
	newID := uuid.NewString()
	metaJSON, err := json.Marshal(attrs.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO chronicle_sessions (id, claude_session_id, project_path, git_branch, start_time, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (claude_session_id) DO NOTHING
	`, newID, claudeSessionID, nullIfEmpty(attrs.ProjectPath), nullIfEmpty(attrs.GitBranch), attrs.StartTime.UTC(), string(metaJSON))
	if err != nil {
		return "", err
	}

	row := p.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(project_path, ''), COALESCE(git_branch, ''), COALESCE(metadata::text, '{}')
		FROM chronicle_sessions WHERE claude_session_id = $1
	`, claudeSessionID)
	var existingID, existingProject, existingBranch, existingMetaJSON string
	if err := row.Scan(&existingID, &existingProject, &existingBranch, &existingMetaJSON); err != nil {
		return "", fmt.Errorf("select upserted session: %w", err)
	}

	mergedMeta, changed := mergeSessionFields(existingProject, existingBranch, existingMetaJSON, attrs)
	if changed {
		_, err = p.db.ExecContext(ctx, `
			UPDATE chronicle_sessions
			SET project_path = COALESCE(NULLIF(project_path, ''), $1),
			    git_branch = COALESCE(NULLIF(git_branch, ''), $2),
			    metadata = $3::jsonb
			WHERE id = $4
		`, attrs.ProjectPath, attrs.GitBranch, mergedMeta, existingID)
		if err != nil {
			return "", fmt.Errorf("update merged session: %w", err)
		}
	}

	return existingID, nil
}

func (p *Primary) CloseSession(ctx context.Context, sessionID string, endTime time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE chronicle_sessions SET end_time = $1 WHERE id = $2 AND end_time IS NULL`, endTime.UTC(), sessionID)
	return err
}

// InsertEvent inserts a single event row, relying on the database's own
// CHECK constraint and AFTER INSERT trigger (termination detection and
// realtime fan-out, spec §4.5) rather than duplicating that logic here.
func (p *Primary) InsertEvent(ctx context.Context, sessionID string, ev *model.Event) (string, error) {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO chronicle_events (id, session_id, event_type, timestamp, tool_name, duration_ms, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, id, sessionID, string(ev.EventType), ev.Timestamp.UTC(), nullIfEmpty(ev.ToolName), ev.DurationMs, string(metaJSON))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Primary) Close() error {
	return p.db.Close()
}

// primarySchema is the canonical remote schema: event_type is
// constrained to the closed enumeration, and triggers on both tables
// emit realtime notifications in the same transaction as the write that
// caused them (spec §4.3, §4.5). The events trigger also marks the
// owning session terminated on a terminal stop event; that UPDATE is a
// write against chronicle_sessions like any other, so the sessions
// trigger fires for it independently and a subscriber sees the
// termination as its own chronicle_sessions notification rather than
// having to infer it from the chronicle_events stream.
const primarySchema = `
CREATE TABLE IF NOT EXISTS chronicle_sessions (
	id UUID PRIMARY KEY,
	claude_session_id TEXT NOT NULL UNIQUE,
	project_path TEXT,
	git_branch TEXT,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chronicle_events (
	id UUID PRIMARY KEY,
	session_id UUID NOT NULL REFERENCES chronicle_sessions(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL CHECK (event_type IN (
		'session_start', 'pre_tool_use', 'post_tool_use', 'user_prompt_submit',
		'stop', 'subagent_stop', 'pre_compact', 'notification', 'error'
	)),
	timestamp TIMESTAMPTZ NOT NULL,
	tool_name TEXT,
	duration_ms BIGINT,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chronicle_events_session ON chronicle_events(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_chronicle_events_type ON chronicle_events(event_type);

CREATE OR REPLACE FUNCTION chronicle_events_notify() RETURNS trigger AS $$
BEGIN
	IF NEW.event_type = 'stop' AND (NEW.metadata->>'session_termination')::boolean IS TRUE THEN
		UPDATE chronicle_sessions SET end_time = NEW.timestamp WHERE id = NEW.session_id AND end_time IS NULL;
	END IF;

	PERFORM pg_notify('chronicle_events', json_build_object(
		'id', NEW.id,
		'session_id', NEW.session_id,
		'event_type', NEW.event_type,
		'timestamp', NEW.timestamp
	)::text);

	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS chronicle_events_notify_trigger ON chronicle_events;
CREATE TRIGGER chronicle_events_notify_trigger
	AFTER INSERT ON chronicle_events
	FOR EACH ROW EXECUTE FUNCTION chronicle_events_notify();

CREATE OR REPLACE FUNCTION chronicle_sessions_notify() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('chronicle_sessions', json_build_object(
		'id', NEW.id,
		'claude_session_id', NEW.claude_session_id,
		'start_time', NEW.start_time,
		'end_time', NEW.end_time
	)::text);

	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS chronicle_sessions_notify_trigger ON chronicle_sessions;
CREATE TRIGGER chronicle_sessions_notify_trigger
	AFTER INSERT OR UPDATE ON chronicle_sessions
	FOR EACH ROW EXECUTE FUNCTION chronicle_sessions_notify();
`
