// Package store implements Chronicle's dual-backend persistence layer
// (spec §4.3): a primary Postgres backend fronted by a circuit breaker
// and an embedded SQLite backend, written in parallel on every call; a
// write succeeds if either backend succeeds, and only the SQLite backend
// is written while the primary's breaker is open.
package store

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/anthropics/chronicle/internal/model"
)

// SessionAttrs carries the fields a hook observes about a session at
// upsert time. Fields left zero are treated as "unknown" and never
// overwrite an existing non-null value.
type SessionAttrs struct {
	ProjectPath string
	GitBranch   string
	StartTime   time.Time
	Metadata    map[string]any
}

// Backend is implemented by both the local and primary stores so the
// Writer can treat them identically.
type Backend interface {
	Name() string
	UpsertSession(ctx context.Context, claudeSessionID string, attrs SessionAttrs) (sessionID string, err error)
	InsertEvent(ctx context.Context, sessionID string, ev *model.Event) (eventID string, err error)
	CloseSession(ctx context.Context, sessionID string, endTime time.Time) error
	Close() error
}

// mergeSessionFields implements spec §4.3's session merge semantics:
// non-null scalar fields are never overwritten once set, and metadata
// merges key-by-key with the incoming write winning ties. It reports
// the merged metadata JSON and whether anything actually changed, so
// callers can skip a no-op UPDATE.
func mergeSessionFields(existingProject, existingBranch, existingMetaJSON string, attrs SessionAttrs) (string, bool) {
	existing := map[string]any{}
	if existingMetaJSON != "" {
		_ = json.Unmarshal([]byte(existingMetaJSON), &existing)
	}

	changed := false
	if existingProject == "" && attrs.ProjectPath != "" {
		changed = true
	}
	if existingBranch == "" && attrs.GitBranch != "" {
		changed = true
	}

	for k, v := range attrs.Metadata {
		// Sanitized metadata can carry nested maps/slices (e.g. arrays
		// surviving redaction), which are uncomparable with !=; DeepEqual
		// handles scalars and nested structures alike.
		if cur, ok := existing[k]; !ok || !reflect.DeepEqual(cur, v) {
			existing[k] = v
			changed = true
		}
	}

	out, _ := json.Marshal(existing)
	return string(out), changed
}
