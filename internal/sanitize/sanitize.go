// Package sanitize redacts secrets and bounds payload size before any
// event or session metadata is persisted (spec §4.2). It is pure and
// deterministic, and it never panics: malformed input yields a
// best-effort output plus a warning count rather than an error.
package sanitize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const redactionMarker = "[REDACTED]"

// Config controls sanitization behavior (mirrors the relevant subset of
// internal/config.Config so this package has no import-cycle on config).
type Config struct {
	MaxPayloadBytes int
	ExtraPatterns   []*regexp.Regexp
	AnonymizePaths  bool
	HomeDir         string
}

// Stats reports what the sanitizer did, for callers that want to log it.
type Stats struct {
	Redactions int
	Truncated  bool
	Warnings   int
}

var keyBlacklist = regexp.MustCompile(`(?i)(password|passwd|token|api[_-]?key|secret|authorization|auth[_-]?token|private[_-]?key)`)

// Value-pattern redaction for common credential shapes: long hex blobs,
// JWT-like three-segment dot tokens, and common cloud key prefixes.
var valuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`),
	regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
}

// Sanitize applies key-name redaction, value-pattern redaction, optional
// home-directory anonymization, and a size cap, in that order, to v
// (expected to be the decoded JSON object of event/session metadata).
// It never returns an error: on internal panics it recovers and returns
// a best-effort representation with an incremented warning count.
func Sanitize(v any, cfg Config) (out any, stats Stats) {
	defer func() {
		if r := recover(); r != nil {
			stats.Warnings++
			out = map[string]any{"_sanitize_error": fmt.Sprintf("%v", r)}
		}
	}()

	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 1048576
	}

	redacted := redactValue(v, cfg, &stats)
	return capSize(redacted, cfg, &stats), stats
}

func redactValue(v any, cfg Config, stats *Stats) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if keyBlacklist.MatchString(k) {
				out[k] = redactionMarker
				stats.Redactions++
				continue
			}
			out[k] = redactValue(val, cfg, stats)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val, cfg, stats)
		}
		return out
	case string:
		return redactString(t, cfg, stats)
	default:
		return v
	}
}

func redactString(s string, cfg Config, stats *Stats) string {
	for _, pat := range valuePatterns {
		if pat.MatchString(s) {
			s = pat.ReplaceAllStringFunc(s, func(m string) string {
				stats.Redactions++
				return redactionMarker
			})
		}
	}
	for _, pat := range cfg.ExtraPatterns {
		if pat.MatchString(s) {
			s = pat.ReplaceAllStringFunc(s, func(m string) string {
				stats.Redactions++
				return redactionMarker
			})
		}
	}
	if cfg.AnonymizePaths && cfg.HomeDir != "" && strings.Contains(s, cfg.HomeDir) {
		s = strings.ReplaceAll(s, cfg.HomeDir, "~")
	}
	return s
}

// capSize enforces invariant I5: the serialized form is at most
// MaxPayloadBytes. If it's over, the longest string values are truncated
// first, each marked with a suffix noting how many bytes were cut, until
// the serialized object fits under budget.
func capSize(v any, cfg Config, stats *Stats) any {
	b, err := json.Marshal(v)
	if err != nil || len(b) <= cfg.MaxPayloadBytes {
		return v
	}
	stats.Truncated = true

	obj, ok := v.(map[string]any)
	if !ok {
		// Not an object: truncate the JSON bytes directly as a fallback.
		over := len(b) - cfg.MaxPayloadBytes
		cut := len(b) - over - 32
		if cut < 0 {
			cut = 0
		}
		return fmt.Sprintf("%s…[truncated %d bytes]", string(b[:cut]), over)
	}

	var strs []strRef
	collectStrings(obj, nil, &strs)
	sort.Slice(strs, func(i, j int) bool {
		if len(strs[i].val) != len(strs[j].val) {
			return len(strs[i].val) > len(strs[j].val)
		}
		// Equal lengths are ordered by path so the result does not
		// depend on map iteration order.
		return fmt.Sprintf("%#v", strs[i].path) < fmt.Sprintf("%#v", strs[j].path)
	})

	for _, sr := range strs {
		b, _ = json.Marshal(obj)
		if len(b) <= cfg.MaxPayloadBytes {
			break
		}
		over := len(b) - cfg.MaxPayloadBytes
		// Reserve room for the marker: its byte count is at most that of
		// a marker naming the whole string length.
		marker := fmt.Sprintf("…[truncated %d bytes]", len(sr.val))
		cut := len(sr.val) - over - len(marker)
		if cut < 0 {
			cut = 0
		}
		for cut > 0 && !utf8.RuneStart(sr.val[cut]) {
			cut--
		}
		truncated := fmt.Sprintf("%s…[truncated %d bytes]", sr.val[:cut], len(sr.val)-cut)
		setPath(obj, sr.path, truncated)
	}
	return obj
}

// strRef locates one string value for truncation. path elements are
// either a string (map key) or an int (slice index), so collectStrings
// can descend through arrays as well as objects — an oversize string
// nested inside a []any must still be reachable for I5's size cap.
type strRef struct {
	path []any
	val  string
}

func collectStrings(v any, path []any, out *[]strRef) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			collectStrings(val, append(append([]any{}, path...), k), out)
		}
	case []any:
		for i, val := range t {
			collectStrings(val, append(append([]any{}, path...), i), out)
		}
	case string:
		*out = append(*out, strRef{path: append([]any{}, path...), val: t})
	}
}

func setPath(obj map[string]any, path []any, val string) {
	if len(path) == 0 {
		return
	}
	var cur any = obj
	for _, p := range path[:len(path)-1] {
		switch key := p.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return
			}
			cur = m[key]
		case int:
			s, ok := cur.([]any)
			if !ok || key < 0 || key >= len(s) {
				return
			}
			cur = s[key]
		}
	}
	switch key := path[len(path)-1].(type) {
	case string:
		m, ok := cur.(map[string]any)
		if !ok {
			return
		}
		m[key] = val
	case int:
		s, ok := cur.([]any)
		if !ok || key < 0 || key >= len(s) {
			return
		}
		s[key] = val
	}
}
