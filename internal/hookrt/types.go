// Package hookrt implements the per-event-type hook process (spec
// §4.4): a short-lived state machine that reads one JSON payload from
// stdin, resolves the session it belongs to, classifies and decides on
// an action, persists the observation, and emits a JSON decision on
// stdout with the exit code the host expects.
package hookrt

import (
	"encoding/json"

	"github.com/anthropics/chronicle/internal/model"
)

// Input is the stdin payload shape from spec §6.1. Extra top-level
// fields the host sends beyond this set are preserved into metadata by
// the parser rather than dropped.
type Input struct {
	SessionID      string          `json:"session_id"`
	HookEventName  string          `json:"hook_event_name"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	Cwd            string          `json:"cwd,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse   json.RawMessage `json:"tool_response,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	Message        string          `json:"message,omitempty"`
	StopReason     string          `json:"stop_reason,omitempty"`
	Trigger        string          `json:"trigger,omitempty"`
	DurationMs     *int64          `json:"duration_ms,omitempty"`

	// Extra carries any field the host sent that isn't one of the
	// above, captured via a second, permissive unmarshal pass.
	Extra map[string]any `json:"-"`
}

// Action is the closed decision taxonomy from spec §4.4's Decide step.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionDeny    Action = "deny"
	ActionAsk     Action = "ask"
	ActionObserve Action = "observe"
)

// Decision is the outcome of Classify+Decide, independent of its wire
// representation (Respond maps it to the stdout schema).
type Decision struct {
	Action            Action
	Reason            string
	AdditionalContext string
	Blocking          bool // true only for a deny that must exit 2

	// EventMetadata is merged into the persisted event's metadata,
	// separate from whatever the host sent, so handlers can record
	// policy decisions, parsed sub-fields, and orphan/termination
	// flags without polluting the raw input.
	EventMetadata map[string]any

	// DurationMs is set only by handlers for event types that carry a
	// duration (post_tool_use, subagent_stop), per I3.
	DurationMs *int64
}

// eventNameToType maps the host's CamelCase hook_event_name (spec
// §6.1) to chronicle's snake_case EventType enumeration.
var eventNameToType = map[string]model.EventType{
	"SessionStart":     model.EventSessionStart,
	"PreToolUse":       model.EventPreToolUse,
	"PostToolUse":      model.EventPostToolUse,
	"UserPromptSubmit": model.EventUserPromptSubmit,
	"Stop":             model.EventStop,
	"SubagentStop":     model.EventSubagentStop,
	"PreCompact":       model.EventPreCompact,
	"Notification":     model.EventNotification,
	"Error":            model.EventError,
}

var typeToEventName = func() map[model.EventType]string {
	m := make(map[model.EventType]string, len(eventNameToType))
	for name, t := range eventNameToType {
		m[t] = name
	}
	return m
}()

// classifyEventType normalizes the host's hook_event_name, which the
// spec requires the hook to accept in CamelCase and normalize to
// snake_case internally. A name the host sends in an unexpected case or
// spelling (spec §9 open question (b): a prior installer emitted
// lowercase names) falls back to a case-insensitive match before giving
// up.
func classifyEventType(hookEventName string) (model.EventType, bool) {
	if t, ok := eventNameToType[hookEventName]; ok {
		return t, true
	}
	for name, t := range eventNameToType {
		if equalFold(name, hookEventName) {
			return t, true
		}
	}
	return "", false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Output is the stdout schema from spec §6.1.
type Output struct {
	Continue           bool                `json:"continue"`
	SuppressOutput     bool                `json:"suppressOutput"`
	StopReason         *string             `json:"stopReason,omitempty"`
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

type HookSpecificOutput struct {
	HookEventName            string  `json:"hookEventName"`
	PermissionDecision       string  `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string  `json:"permissionDecisionReason,omitempty"`
	AdditionalContext        string  `json:"additionalContext,omitempty"`
}

// toOutput renders a Decision into the wire schema for hookEventName.
func toOutput(eventType model.EventType, d Decision) Output {
	out := Output{
		Continue:       d.Action != ActionDeny || !d.Blocking,
		SuppressOutput: false,
	}
	if d.Action == ActionDeny {
		out.Continue = !d.Blocking
	}

	hookName := typeToEventName[eventType]
	hso := &HookSpecificOutput{
		HookEventName:      hookName,
		AdditionalContext:  d.AdditionalContext,
	}
	switch d.Action {
	case ActionAllow:
		hso.PermissionDecision = "allow"
	case ActionDeny:
		hso.PermissionDecision = "deny"
		hso.PermissionDecisionReason = d.Reason
	case ActionAsk:
		hso.PermissionDecision = "ask"
		hso.PermissionDecisionReason = d.Reason
	case ActionObserve:
		// No permissionDecision field for a purely observational hook.
	}
	out.HookSpecificOutput = hso
	return out
}

// defaultAllowOutput is the safety-net response emitted on any parse
// failure, timeout, or uncaught error (spec §4.4, §7): the host must
// never see a hook crash or block on an internal failure.
func defaultAllowOutput(hookEventName string) Output {
	return Output{
		Continue: true,
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:      hookEventName,
			PermissionDecision: "allow",
		},
	}
}
