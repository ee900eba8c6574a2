package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/chronicle/internal/model"
)

func openTestLocal(t *testing.T) *Local {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chronicle.db")
	l, err := OpenLocal(path)
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLocal_UpsertSession_FirstInsert(t *testing.T) {
	l := openTestLocal(t)
	ctx := context.Background()

	id, err := l.UpsertSession(ctx, "claude-abc", SessionAttrs{
		ProjectPath: "/repo", GitBranch: "main", StartTime: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if id == "" {
		t.Error("expected a non-empty session id")
	}
}

func TestLocal_UpsertSession_ConflictMerges(t *testing.T) {
	l := openTestLocal(t)
	ctx := context.Background()

	id1, err := l.UpsertSession(ctx, "claude-xyz", SessionAttrs{StartTime: time.Now()})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	id2, err := l.UpsertSession(ctx, "claude-xyz", SessionAttrs{
		ProjectPath: "/repo", GitBranch: "main", StartTime: time.Now(),
		Metadata: map[string]any{"tool_count": "5"},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same session id across upserts, got %s and %s", id1, id2)
	}
}

func TestLocal_InsertEvent_MarksTermination(t *testing.T) {
	l := openTestLocal(t)
	ctx := context.Background()

	sessionID, err := l.UpsertSession(ctx, "claude-term", SessionAttrs{StartTime: time.Now()})
	if err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	ev := &model.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		EventType: model.EventStop,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"session_termination": true},
	}
	if _, err := l.InsertEvent(ctx, sessionID, ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	var endTime *time.Time
	row := l.db.QueryRowContext(ctx, `SELECT end_time FROM chronicle_sessions WHERE id = ?`, sessionID)
	if err := row.Scan(&endTime); err != nil {
		t.Fatalf("scan end_time: %v", err)
	}
	if endTime == nil {
		t.Error("expected end_time to be set after a terminating stop event")
	}
}

func TestLocal_InsertEvent_DuplicateIDIsNoop(t *testing.T) {
	l := openTestLocal(t)
	ctx := context.Background()

	sessionID, _ := l.UpsertSession(ctx, "claude-dup", SessionAttrs{StartTime: time.Now()})
	ev := &model.Event{
		ID:        "fixed-event-id",
		SessionID: sessionID,
		EventType: model.EventNotification,
		Timestamp: time.Now(),
	}
	if _, err := l.InsertEvent(ctx, sessionID, ev); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := l.InsertEvent(ctx, sessionID, ev); err != nil {
		t.Fatalf("duplicate insert should be a silent no-op: %v", err)
	}

	var count int
	row := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chronicle_events WHERE id = ?`, ev.ID)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one row for a retried write with the same id, got %d", count)
	}
}
