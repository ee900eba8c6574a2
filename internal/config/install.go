package config

// InstallSpec and HookEntry model the configuration file an (out-of-scope)
// installer would write to register hooks with the host (spec §6.2).
// Chronicle does not implement the installer — these types exist only so
// that collaborator has a documented, typed contract to target.
type InstallSpec struct {
	Hooks map[string]HookEntry `json:"hooks"`
}

// HookEntry is one per-event-type registration; Command is the hook's
// command path. Matcher must never be the literal "*" (the host rejects
// it, and a prior installer version shipped it by mistake), and the event
// name an entry is registered under must use the host's CamelCase
// spelling, e.g. "PreToolUse" not "pre_tool_use" or "pretooluse".
type HookEntry struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeout_ms"`
	Matcher   string `json:"matcher"`
}

const defaultHookTimeoutMs = 10000

// NewHookEntry builds a HookEntry for the given canonical hook path,
// defaulting TimeoutMs per spec.md §6.2 and leaving Matcher empty — the
// spec forbids the over-broad "*" matcher a prior installer used.
func NewHookEntry(command string) HookEntry {
	return HookEntry{
		Command:   command,
		TimeoutMs: defaultHookTimeoutMs,
		Matcher:   "",
	}
}
