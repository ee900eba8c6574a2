package model

import "testing"

func TestEventTypeIsValid(t *testing.T) {
	valid := []EventType{
		EventSessionStart, EventPreToolUse, EventPostToolUse,
		EventUserPromptSubmit, EventStop, EventSubagentStop,
		EventPreCompact, EventNotification, EventError,
	}
	for _, et := range valid {
		if !et.IsValid() {
			t.Errorf("expected %s to be valid", et)
		}
	}
	if EventType("bogus").IsValid() {
		t.Error("expected bogus event type to be invalid")
	}
}

func TestEventValidate_DurationCoherence(t *testing.T) {
	d := int64(42)

	e := &Event{EventType: EventPostToolUse, DurationMs: &d}
	if err := e.Validate(); err != nil {
		t.Errorf("post_tool_use with duration should validate: %v", err)
	}

	e = &Event{EventType: EventPreToolUse, DurationMs: &d}
	if err := e.Validate(); err == nil {
		t.Error("expected error: duration_ms not permitted on pre_tool_use")
	}

	e = &Event{EventType: EventSessionStart, DurationMs: &d}
	if err := e.Validate(); err == nil {
		t.Error("expected error: duration_ms not permitted on session_start")
	}
}

func TestEventValidate_ToolNameCoherence(t *testing.T) {
	e := &Event{EventType: EventPreToolUse, ToolName: "Read"}
	if err := e.Validate(); err != nil {
		t.Errorf("pre_tool_use with tool_name should validate: %v", err)
	}

	e = &Event{EventType: EventStop, ToolName: "Read"}
	if err := e.Validate(); err == nil {
		t.Error("expected error: tool_name not permitted on stop")
	}
}

func TestEventValidate_InvalidType(t *testing.T) {
	e := &Event{EventType: "bogus"}
	if err := e.Validate(); err == nil {
		t.Error("expected error for invalid event_type")
	}
}

func TestEventIsTermination(t *testing.T) {
	e := &Event{EventType: EventStop, Metadata: map[string]any{"session_termination": true}}
	if !e.IsTermination() {
		t.Error("expected termination event to report true")
	}

	e = &Event{EventType: EventStop, Metadata: map[string]any{"session_termination": false}}
	if e.IsTermination() {
		t.Error("expected non-terminating stop to report false")
	}

	e = &Event{EventType: EventStop}
	if e.IsTermination() {
		t.Error("expected stop without flag to report false")
	}

	e = &Event{EventType: EventPostToolUse, Metadata: map[string]any{"session_termination": true}}
	if e.IsTermination() {
		t.Error("only stop events may terminate a session")
	}
}
