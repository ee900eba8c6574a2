package hookrt

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/anthropics/chronicle/internal/store"
)

func testWriter(t *testing.T) *store.Writer {
	t.Helper()
	local, err := store.OpenLocal(filepath.Join(t.TempDir(), "chronicle.db"))
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return store.NewWriter(nil, local, zerolog.Nop())
}

func TestRun_PreToolUseAllowsRead(t *testing.T) {
	cfg := testConfig(t)
	w := testWriter(t)
	stdin := bytes.NewBufferString(`{"session_id":"S1","hook_event_name":"PreToolUse","tool_name":"Read","tool_input":{"file_path":"/src/a.ts"}}`)
	var stdout bytes.Buffer

	code := Run(context.Background(), stdin, &stdout, cfg, w, zerolog.Nop())
	if code != ExitContinue {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode stdout: %v", err)
	}
	if !out.Continue {
		t.Error("expected continue=true")
	}
	if out.HookSpecificOutput.PermissionDecision != "allow" {
		t.Errorf("expected allow, got %s", out.HookSpecificOutput.PermissionDecision)
	}
}

func TestRun_PreToolUseDeniesDestructiveCommand(t *testing.T) {
	cfg := testConfig(t)
	w := testWriter(t)
	stdin := bytes.NewBufferString(`{"session_id":"S1","hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"rm -rf /"}}`)
	var stdout bytes.Buffer

	code := Run(context.Background(), stdin, &stdout, cfg, w, zerolog.Nop())
	if code != ExitBlocked {
		t.Fatalf("expected exit 2, got %d", code)
	}

	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode stdout: %v", err)
	}
	if out.Continue {
		t.Error("expected continue=false for a blocking deny")
	}
	if out.HookSpecificOutput.PermissionDecision != "deny" {
		t.Errorf("expected deny, got %s", out.HookSpecificOutput.PermissionDecision)
	}
}

func TestRun_MalformedInputDefaultsToAllow(t *testing.T) {
	cfg := testConfig(t)
	w := testWriter(t)
	stdin := bytes.NewBufferString(`not json`)
	var stdout bytes.Buffer

	code := Run(context.Background(), stdin, &stdout, cfg, w, zerolog.Nop())
	if code != ExitContinue {
		t.Fatalf("expected exit 0 for malformed input, got %d", code)
	}

	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode stdout: %v", err)
	}
	if !out.Continue {
		t.Error("expected default-allow continue=true")
	}
}

func TestRun_UnrecognizedEventTypeDefaultsToAllow(t *testing.T) {
	cfg := testConfig(t)
	w := testWriter(t)
	stdin := bytes.NewBufferString(`{"hook_event_name":"SomeFutureEvent"}`)
	var stdout bytes.Buffer

	code := Run(context.Background(), stdin, &stdout, cfg, w, zerolog.Nop())
	if code != ExitContinue {
		t.Fatalf("expected exit 0, got %d", code)
	}
}

func TestRun_OrphanSessionExitsZero(t *testing.T) {
	t.Setenv("CLAUDE_SESSION_ID", "")
	cfg := testConfig(t)
	w := testWriter(t)
	stdin := bytes.NewBufferString(`{"hook_event_name":"Notification","message":"hi"}`)
	var stdout bytes.Buffer

	code := Run(context.Background(), stdin, &stdout, cfg, w, zerolog.Nop())
	if code != ExitContinue {
		t.Fatalf("expected exit 0, got %d", code)
	}
}

func TestRun_SessionStartWithNestedMetadataDoesNotPanic(t *testing.T) {
	cfg := testConfig(t)
	w := testWriter(t)

	first := bytes.NewBufferString(`{"session_id":"S-nested","hook_event_name":"SessionStart","cwd":"/tmp","tags":["a","b"]}`)
	var out1 bytes.Buffer
	if code := Run(context.Background(), first, &out1, cfg, w, zerolog.Nop()); code != ExitContinue {
		t.Fatalf("expected exit 0 on first SessionStart, got %d", code)
	}

	// Re-running SessionStart for the same claude session id forces the
	// store's upsert-merge path to compare the new nested "tags" array
	// against the one already persisted.
	second := bytes.NewBufferString(`{"session_id":"S-nested","hook_event_name":"SessionStart","cwd":"/tmp","tags":["a","b","c"]}`)
	var out2 bytes.Buffer
	if code := Run(context.Background(), second, &out2, cfg, w, zerolog.Nop()); code != ExitContinue {
		t.Fatalf("expected exit 0 on second SessionStart, got %d", code)
	}
}

func TestRun_SessionStartEchoesHookEventName(t *testing.T) {
	cfg := testConfig(t)
	w := testWriter(t)
	stdin := bytes.NewBufferString(`{"session_id":"S-start","hook_event_name":"SessionStart","cwd":"/tmp"}`)
	var stdout bytes.Buffer

	code := Run(context.Background(), stdin, &stdout, cfg, w, zerolog.Nop())
	if code != ExitContinue {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode stdout: %v", err)
	}
	if out.HookSpecificOutput.HookEventName != "SessionStart" {
		t.Errorf("expected hookEventName=SessionStart, got %s", out.HookSpecificOutput.HookEventName)
	}
}
