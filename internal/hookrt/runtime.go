package hookrt

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropics/chronicle/internal/config"
	"github.com/anthropics/chronicle/internal/model"
	"github.com/anthropics/chronicle/internal/sanitize"
	"github.com/anthropics/chronicle/internal/store"
)

// Exit codes from spec §4.4/§6.1. Any other non-zero code is reserved
// for internal fatal errors during development and must never be used
// to propagate an event decision.
const (
	ExitContinue = 0
	ExitBlocked  = 2
)

// Run executes the full hook state machine once: ParseInput ->
// ResolveSession -> Classify -> Decide -> Persist -> Respond -> Exit
// (spec §4.4). It never panics into the caller and never returns a
// code outside {0, 2} for an event decision; any internal failure
// degrades to a silent default-allow response, per the "default-allow"
// design principle in the glossary.
func Run(ctx context.Context, stdin io.Reader, stdout io.Writer, cfg *config.Config, w *store.Writer, log zerolog.Logger) (exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("hookrt: recovered from panic, responding default-allow")
			writeOutput(stdout, defaultAllowOutput(""), log)
			exitCode = ExitContinue
		}
	}()

	deadline := time.Now().Add(time.Duration(cfg.HookTimeoutMs) * time.Millisecond)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	in, err := ParseInput(stdin)
	if err != nil {
		log.Warn().Err(err).Msg("hookrt: failed to parse stdin")
		writeOutput(stdout, defaultAllowOutput(""), log)
		return ExitContinue
	}

	eventType, ok := classifyEventType(in.HookEventName)
	if !ok {
		log.Warn().Str("hook_event_name", in.HookEventName).Msg("hookrt: unrecognized event type")
		writeOutput(stdout, defaultAllowOutput(in.HookEventName), log)
		return ExitContinue
	}

	if runCtx.Err() != nil {
		log.Warn().Str("event_type", string(eventType)).Msg("hookrt: soft budget exceeded before classify, default-allow")
		writeOutput(stdout, defaultAllowOutput(in.HookEventName), log)
		return ExitContinue
	}

	claudeSessionID, orphan := ResolveSession(in)

	handle, ok := handlers[eventType]
	if !ok {
		writeOutput(stdout, defaultAllowOutput(in.HookEventName), log)
		return ExitContinue
	}
	decision := handle(in, cfg)

	if orphan {
		if decision.EventMetadata == nil {
			decision.EventMetadata = map[string]any{}
		}
		decision.EventMetadata["orphan"] = true
	}

	if runCtx.Err() != nil {
		log.Warn().Str("event_type", string(eventType)).Msg("hookrt: soft budget exceeded before persist, default-allow")
		writeOutput(stdout, defaultAllowOutput(in.HookEventName), log)
		return ExitContinue
	}

	persist(runCtx, w, cfg, log, eventType, claudeSessionID, in, decision)

	output := toOutput(eventType, decision)
	writeOutput(stdout, output, log)

	if decision.Action == ActionDeny && decision.Blocking {
		return ExitBlocked
	}
	return ExitContinue
}

// persist sanitizes and writes the observed event. Persistence never
// alters the response already computed (spec §4.4, "Persist" step) —
// any failure here is logged and swallowed, never surfaced to the host.
func persist(ctx context.Context, w *store.Writer, cfg *config.Config, log zerolog.Logger, eventType model.EventType, claudeSessionID string, in *Input, decision Decision) {
	if w == nil {
		return
	}

	rawMeta := map[string]any{}
	for k, v := range in.Extra {
		rawMeta[k] = v
	}
	for k, v := range decision.EventMetadata {
		rawMeta[k] = v
	}

	homeDir, _ := os.UserHomeDir()
	sanitizeCfg := sanitize.Config{
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		ExtraPatterns:   cfg.CompiledSanitizePatterns(),
		AnonymizePaths:  cfg.SanitizePathAnon,
		HomeDir:         homeDir,
	}
	cleaned, stats := sanitize.Sanitize(rawMeta, sanitizeCfg)
	if stats.Warnings > 0 {
		log.Warn().Int("warnings", stats.Warnings).Msg("hookrt: sanitizer reported warnings")
	}
	meta, ok := cleaned.(map[string]any)
	if !ok {
		meta = map[string]any{}
	}

	if eventType == model.EventSessionStart {
		attrs := store.SessionAttrs{
			StartTime: time.Now().UTC(),
			Metadata:  meta,
		}
		if v, ok := meta["project_path"].(string); ok {
			attrs.ProjectPath = v
		}
		if v, ok := meta["git_branch"].(string); ok {
			attrs.GitBranch = v
		}
		if result := w.WriteSession(ctx, claudeSessionID, attrs); !result.Succeeded() {
			log.Error().Err(result.Err).Str("claude_session_id", claudeSessionID).Msg("hookrt: failed to persist session_start")
		}
	}

	var toolName string
	if eventType.HasToolName() {
		toolName = in.ToolName
	}

	ev := &model.Event{
		ID:         "",
		EventType:  eventType,
		Timestamp:  time.Now().UTC(),
		ToolName:   toolName,
		DurationMs: decision.DurationMs,
		Metadata:   meta,
	}
	if result := w.WriteEvent(ctx, claudeSessionID, ev); !result.Succeeded() {
		log.Error().Err(result.Err).Str("claude_session_id", claudeSessionID).Str("event_type", string(eventType)).Msg("hookrt: failed to persist event")
	}
}

func writeOutput(stdout io.Writer, out Output, log zerolog.Logger) {
	enc := json.NewEncoder(stdout)
	if err := enc.Encode(out); err != nil {
		log.Error().Err(err).Msg("hookrt: failed to write stdout response")
	}
}
