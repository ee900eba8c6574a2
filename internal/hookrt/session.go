package hookrt

import (
	"os"

	"github.com/google/uuid"
)

// ResolveSession extracts the host session identifier per spec §4.4:
// prefer the payload, fall back to the environment variable the host
// sets for the duration of a run, and otherwise synthesize a fresh id
// and flag the event as an orphan (spec §9 open question (a)).
func ResolveSession(in *Input) (claudeSessionID string, orphan bool) {
	if in.SessionID != "" {
		return in.SessionID, false
	}
	if env := os.Getenv("CLAUDE_SESSION_ID"); env != "" {
		return env, false
	}
	return uuid.NewString(), true
}
