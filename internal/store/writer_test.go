package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropics/chronicle/internal/model"
)

type stubBackend struct {
	name string
	err  error
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) UpsertSession(ctx context.Context, claudeSessionID string, attrs SessionAttrs) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "sid-" + s.name, nil
}
func (s *stubBackend) InsertEvent(ctx context.Context, sessionID string, ev *model.Event) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "eid-" + s.name, nil
}
func (s *stubBackend) CloseSession(ctx context.Context, sessionID string, endTime time.Time) error {
	return s.err
}
func (s *stubBackend) Close() error { return nil }

func newTestWriter(t *testing.T, primaryErr error) (*Writer, *Local) {
	t.Helper()
	local := openTestLocal(t)
	primary := NewGuarded(&stubBackend{name: "primary", err: primaryErr})
	return NewWriter(primary, local, zerolog.Nop()), local
}

func TestWriter_WriteEvent_BothBackendsSucceed(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	ev := &model.Event{EventType: model.EventNotification, Timestamp: time.Now()}

	result := w.WriteEvent(context.Background(), "claude-1", ev)
	if !result.Succeeded() {
		t.Fatalf("expected success, got err=%v", result.Err)
	}
	if len(result.Backends) != 2 {
		t.Errorf("expected both backends to report success, got %v", result.Backends)
	}
}

func TestWriter_WriteEvent_PrimaryFailsLocalSucceeds(t *testing.T) {
	w, _ := newTestWriter(t, errors.New("connection refused"))
	ev := &model.Event{EventType: model.EventNotification, Timestamp: time.Now()}

	result := w.WriteEvent(context.Background(), "claude-2", ev)
	if !result.Succeeded() {
		t.Fatalf("expected overall success when local succeeds, got err=%v", result.Err)
	}
	if len(result.Backends) != 1 || result.Backends[0] != "local" {
		t.Errorf("expected only local to succeed, got %v", result.Backends)
	}
}

func TestWriter_WriteEvent_BothBackendsFail(t *testing.T) {
	local := openTestLocal(t)
	local.Close() // force every subsequent local write to fail
	primary := NewGuarded(&stubBackend{name: "primary", err: errors.New("boom")})
	w := NewWriter(primary, local, zerolog.Nop())

	ev := &model.Event{EventType: model.EventNotification, Timestamp: time.Now()}
	result := w.WriteEvent(context.Background(), "claude-3", ev)
	if result.Succeeded() {
		t.Fatal("expected failure when both backends fail")
	}
	if result.Err == nil {
		t.Error("expected a non-nil error")
	}
}

func TestWriter_WriteEvent_InvalidEventRejectedBeforeFanOut(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	ev := &model.Event{EventType: model.EventNotification, Timestamp: time.Now(), DurationMs: int64Ptr(5)}

	result := w.WriteEvent(context.Background(), "claude-4", ev)
	if result.Succeeded() {
		t.Fatal("expected validation failure for duration_ms on a non-timed event type")
	}
}

func int64Ptr(v int64) *int64 { return &v }
