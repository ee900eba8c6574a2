package hookrt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/anthropics/chronicle/internal/config"
	"github.com/anthropics/chronicle/internal/gitctx"
	"github.com/anthropics/chronicle/internal/model"
)

// handler is the per-event-type decision logic dispatched by Classify
// (spec §4.4, "Event-type logic"). It receives the parsed input and the
// process-wide config and returns the Decision to persist and respond
// with.
type handler func(in *Input, cfg *config.Config) Decision

// handlers is the closed dispatch table named in spec §9: "a single
// dispatch table maps event_type -> handler", generalized from
// GoClode's core.ModuleManager.Emit/builtinHandlers map shape.
var handlers = map[model.EventType]handler{
	model.EventSessionStart:     handleSessionStart,
	model.EventPreToolUse:       handlePreToolUse,
	model.EventPostToolUse:      handlePostToolUse,
	model.EventUserPromptSubmit: handleUserPromptSubmit,
	model.EventStop:             handleStop,
	model.EventSubagentStop:     handleSubagentStop,
	model.EventPreCompact:       handlePreCompact,
	model.EventNotification:     handleNotification,
	model.EventError:            handleError,
}

func handleSessionStart(in *Input, cfg *config.Config) Decision {
	meta := map[string]any{}
	info := gitctx.Resolve(in.Cwd)
	meta["project_path"] = info.ProjectPath
	if info.GitBranch != "" {
		meta["git_branch"] = info.GitBranch
	}
	if info.GitCommit != "" {
		meta["git_commit"] = info.GitCommit
	}
	meta["git_dirty"] = info.Dirty

	context := resolveProjectContext(info)

	return Decision{
		Action:            ActionObserve,
		AdditionalContext: context,
		EventMetadata:     meta,
	}
}

// resolveProjectContext is a best-effort summary handed back to the
// host as additional_context; failures here must never fail the hook
// (spec §4.4).
func resolveProjectContext(info *gitctx.Info) string {
	if info == nil || info.ProjectPath == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("project: ")
	b.WriteString(filepath.Base(info.ProjectPath))
	if info.GitBranch != "" {
		b.WriteString(" (branch ")
		b.WriteString(info.GitBranch)
		b.WriteString(")")
	}
	return b.String()
}

// mcpToolPrefix is the host's naming convention for tools proxied
// through an MCP server: mcp__<server>__<tool>.
const mcpToolPrefix = "mcp__"

func parseMCPTool(toolName string) (server, tool string, ok bool) {
	if !strings.HasPrefix(toolName, mcpToolPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(toolName, mcpToolPrefix)
	parts := strings.SplitN(rest, "__", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// denyCommandPatterns match shell commands the core refuses regardless
// of auto_approve config (spec §4.4, "special-case certain high-risk
// operations").
var denyCommandPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	":(){ :|:& };:",
	"mkfs",
	"dd if=/dev/zero of=/dev/",
	"> /dev/sda",
}

func matchesDenyCommand(command string) (string, bool) {
	lower := strings.ToLower(command)
	for _, pattern := range denyCommandPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return pattern, true
		}
	}
	return "", false
}

// writeTools are the tools whose file_path argument names a file to be
// written; only these are checked against the project root.
var writeTools = map[string]bool{"Write": true, "Edit": true, "MultiEdit": true}

// isOutsideProjectRoot reports whether an absolute file path escapes
// cwd, a common destructive-write signal the core treats as high risk.
func isOutsideProjectRoot(cwd, path string) bool {
	if cwd == "" || path == "" || !filepath.IsAbs(path) {
		return false
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(rel, "..")
}

func handlePreToolUse(in *Input, cfg *config.Config) Decision {
	meta := map[string]any{"tool_name": in.ToolName}

	if server, tool, ok := parseMCPTool(in.ToolName); ok {
		meta["mcp_server"] = server
		meta["mcp_tool"] = tool
	}

	var toolInput map[string]any
	if len(in.ToolInput) > 0 {
		_ = json.Unmarshal(in.ToolInput, &toolInput)
	}

	for _, deny := range cfg.AutoApproveDeny {
		if deny == in.ToolName {
			return Decision{Action: ActionDeny, Blocking: true, Reason: "tool denied by policy", EventMetadata: meta}
		}
	}

	if in.ToolName == "Bash" {
		if cmd, ok := toolInput["command"].(string); ok {
			if pattern, matched := matchesDenyCommand(cmd); matched {
				meta["denied_pattern"] = pattern
				return Decision{Action: ActionDeny, Blocking: true, Reason: "destructive command", EventMetadata: meta}
			}
		}
	}
	if path, ok := toolInput["file_path"].(string); ok && writeTools[in.ToolName] {
		if isOutsideProjectRoot(in.Cwd, path) {
			meta["denied_path"] = path
			return Decision{Action: ActionDeny, Blocking: true, Reason: "write outside project root", EventMetadata: meta}
		}
	}

	for _, allow := range cfg.AutoApproveAllow {
		if allow == in.ToolName {
			return Decision{Action: ActionAllow, EventMetadata: meta}
		}
	}

	// Default-allow: the core is observational and must never default
	// to ask (spec §4.4 explicitly calls out a prior regression here).
	return Decision{Action: ActionAllow, EventMetadata: meta}
}

func handlePostToolUse(in *Input, cfg *config.Config) Decision {
	meta := map[string]any{"tool_name": in.ToolName}

	var resp struct {
		Success    bool   `json:"success"`
		Error      string `json:"error,omitempty"`
		DurationMs *int64 `json:"duration_ms,omitempty"`
	}
	if len(in.ToolResponse) > 0 {
		_ = json.Unmarshal(in.ToolResponse, &resp)
		meta["success"] = resp.Success
		if resp.Error != "" {
			meta["error"] = resp.Error
		}
		meta["response_size"] = len(in.ToolResponse)
	}

	duration := in.DurationMs
	if duration == nil {
		duration = resp.DurationMs
	}

	return Decision{Action: ActionObserve, EventMetadata: meta, DurationMs: duration}
}

func handleUserPromptSubmit(in *Input, cfg *config.Config) Decision {
	sum := sha256.Sum256([]byte(in.Prompt))
	meta := map[string]any{
		"prompt_length": len(in.Prompt),
		"prompt_hash":   hex.EncodeToString(sum[:]),
	}
	return Decision{Action: ActionObserve, EventMetadata: meta}
}

// terminalStopReasons are stop_reason values that indicate a true end
// of the agent run, as opposed to a tool-wait or compaction boundary
// (spec §4.4, §9 open question (c): a prior bug auto-terminated on any
// stop event).
var terminalStopReasons = map[string]bool{
	"end_turn":           true,
	"completed":          true,
	"user_interrupt":     true,
	"max_turns_exceeded": true,
}

func handleStop(in *Input, cfg *config.Config) Decision {
	meta := map[string]any{"stop_reason": in.StopReason}
	if terminalStopReasons[in.StopReason] {
		meta["session_termination"] = true
	}
	return Decision{Action: ActionObserve, EventMetadata: meta}
}

func handleSubagentStop(in *Input, cfg *config.Config) Decision {
	meta := map[string]any{"stop_reason": in.StopReason}
	return Decision{Action: ActionObserve, EventMetadata: meta, DurationMs: in.DurationMs}
}

func handlePreCompact(in *Input, cfg *config.Config) Decision {
	meta := map[string]any{"trigger": in.Trigger}
	if len(in.ToolResponse) > 0 {
		meta["context_size"] = len(in.ToolResponse)
	}
	return Decision{Action: ActionObserve, EventMetadata: meta}
}

func handleNotification(in *Input, cfg *config.Config) Decision {
	meta := map[string]any{"message": in.Message}
	return Decision{Action: ActionObserve, EventMetadata: meta}
}

func handleError(in *Input, cfg *config.Config) Decision {
	meta := map[string]any{"message": in.Message}
	return Decision{Action: ActionObserve, EventMetadata: meta}
}
