package hookrt

import (
	"encoding/json"
	"fmt"
	"io"
)

// maxStdinBytes bounds ParseInput per spec §4.4: "Read stdin to EOF
// (bounded by 10 MiB)".
const maxStdinBytes = 10 * 1024 * 1024

// knownInputFields lists the JSON keys Input already maps, so
// ParseInput can route everything else into Extra without double
// counting.
var knownInputFields = map[string]bool{
	"session_id": true, "hook_event_name": true, "transcript_path": true,
	"cwd": true, "tool_name": true, "tool_input": true, "tool_response": true,
	"prompt": true, "message": true, "stop_reason": true, "trigger": true,
	"duration_ms": true,
}

// ParseInput reads and decodes the hook's stdin payload. A malformed or
// empty payload is reported as an error; callers must treat that as a
// default-allow, exit-0 outcome rather than propagating it to the host
// (spec §4.4).
func ParseInput(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxStdinBytes+1))
	if err != nil {
		return nil, fmt.Errorf("hookrt: read stdin: %w", err)
	}
	if len(data) > maxStdinBytes {
		return nil, fmt.Errorf("hookrt: stdin payload exceeds %d bytes", maxStdinBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("hookrt: empty stdin payload")
	}

	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("hookrt: parse stdin JSON: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		extra := make(map[string]any)
		for k, v := range raw {
			if knownInputFields[k] {
				continue
			}
			var decoded any
			if err := json.Unmarshal(v, &decoded); err == nil {
				extra[k] = decoded
			}
		}
		if len(extra) > 0 {
			in.Extra = extra
		}
	}

	return &in, nil
}
