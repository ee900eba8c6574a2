// Package model defines Chronicle's core data model: sessions and events,
// and the closed event-type enumeration and invariants they share.
package model

import "time"

// EventType is the closed set of observation kinds a hook can record.
type EventType string

const (
	EventSessionStart     EventType = "session_start"
	EventPreToolUse       EventType = "pre_tool_use"
	EventPostToolUse      EventType = "post_tool_use"
	EventUserPromptSubmit EventType = "user_prompt_submit"
	EventStop             EventType = "stop"
	EventSubagentStop     EventType = "subagent_stop"
	EventPreCompact       EventType = "pre_compact"
	EventNotification     EventType = "notification"
	EventError            EventType = "error"
)

var validEventTypes = map[EventType]struct{}{
	EventSessionStart:     {},
	EventPreToolUse:       {},
	EventPostToolUse:      {},
	EventUserPromptSubmit: {},
	EventStop:             {},
	EventSubagentStop:     {},
	EventPreCompact:       {},
	EventNotification:     {},
	EventError:            {},
}

// IsValid reports whether t is one of the nine enumerated event types.
// The local backend carries no database CHECK constraint (spec forbids
// one — a prior over-restrictive constraint silently dropped valid
// events), so this is the sole enforcement point for the closed
// event-type set on that path. Event.Validate calls it before checking I3.
func (t EventType) IsValid() bool {
	_, ok := validEventTypes[t]
	return ok
}

// HasDuration reports whether event_type permits a non-null duration_ms.
func (t EventType) HasDuration() bool {
	return t == EventPostToolUse || t == EventSubagentStop
}

// HasToolName reports whether event_type permits a non-null tool_name.
func (t EventType) HasToolName() bool {
	return t == EventPreToolUse || t == EventPostToolUse
}

// HostInfo captures non-critical host environment fields observed at
// session_start (CLI version, OS, hostname). Best-effort, never required.
type HostInfo struct {
	CLIVersion string `json:"cli_version,omitempty"`
	OS         string `json:"os,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
}

// Session represents a single uninterrupted run of the agent (spec §3).
type Session struct {
	ID              string         `json:"id"`
	ClaudeSessionID string         `json:"claude_session_id"`
	ProjectPath     string         `json:"project_path,omitempty"`
	GitBranch       string         `json:"git_branch,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Event is a single append-only observation persisted under a session.
type Event struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	EventType  EventType      `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	ToolName   string         `json:"tool_name,omitempty"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate enforces invariant I3 (type-field coherence) on an event about
// to be persisted. It does not enforce I1 (referential) — that is the
// store's job, backed by the foreign key.
func (e *Event) Validate() error {
	if !e.EventType.IsValid() {
		return &InvalidEventTypeError{EventType: e.EventType}
	}
	if e.DurationMs != nil && !e.EventType.HasDuration() {
		return &FieldCoherenceError{Field: "duration_ms", EventType: e.EventType}
	}
	if e.ToolName != "" && !e.EventType.HasToolName() {
		return &FieldCoherenceError{Field: "tool_name", EventType: e.EventType}
	}
	return nil
}

// IsTermination reports whether this event, per invariant I6, is the kind
// that causes the persistence layer's trigger to close a session out.
func (e *Event) IsTermination() bool {
	if e.EventType != EventStop {
		return false
	}
	v, ok := e.Metadata["session_termination"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// InvalidEventTypeError reports an event_type outside the closed set.
type InvalidEventTypeError struct {
	EventType EventType
}

func (e *InvalidEventTypeError) Error() string {
	return "model: invalid event_type " + string(e.EventType)
}

// FieldCoherenceError reports a violation of invariant I3.
type FieldCoherenceError struct {
	Field     string
	EventType EventType
}

func (e *FieldCoherenceError) Error() string {
	return "model: field " + e.Field + " not permitted on event_type " + string(e.EventType)
}
