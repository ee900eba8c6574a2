package store

import (
	"testing"
	"time"
)

func TestMergeSessionFields_AddsMissingFields(t *testing.T) {
	attrs := SessionAttrs{ProjectPath: "/repo", GitBranch: "main", StartTime: time.Now()}
	_, changed := mergeSessionFields("", "", "{}", attrs)
	if !changed {
		t.Error("expected change when filling in previously-empty fields")
	}
}

func TestMergeSessionFields_NeverOverwritesNonNull(t *testing.T) {
	attrs := SessionAttrs{ProjectPath: "/new-path", GitBranch: "feature"}
	metaJSON, changed := mergeSessionFields("/original-path", "main", "{}", attrs)
	if changed {
		// metadata empty and scalar fields already set: only a no-op expected
		t.Errorf("expected no change when project_path and git_branch are already set, got metadata %s", metaJSON)
	}
	_ = metaJSON
	// mergeSessionFields itself doesn't decide the UPDATE's SET clause value,
	// it only flags whether anything changed; the COALESCE(NULLIF(...)) in
	// the UPDATE statement is what actually protects existing values.
}

func TestMergeSessionFields_MetadataLastWriterWins(t *testing.T) {
	existingMeta := `{"tool_count":"1","note":"old"}`
	attrs := SessionAttrs{Metadata: map[string]any{"note": "new", "extra": "added"}}
	mergedJSON, changed := mergeSessionFields("/repo", "main", existingMeta, attrs)
	if !changed {
		t.Fatal("expected metadata change")
	}
	if !contains(mergedJSON, `"note":"new"`) {
		t.Errorf("expected incoming write to win for shared key, got %s", mergedJSON)
	}
	if !contains(mergedJSON, `"extra":"added"`) {
		t.Errorf("expected new key to be added, got %s", mergedJSON)
	}
	if !contains(mergedJSON, `"tool_count":"1"`) {
		t.Errorf("expected untouched key to survive the merge, got %s", mergedJSON)
	}
}

func TestMergeSessionFields_NoopWhenNothingChanges(t *testing.T) {
	attrs := SessionAttrs{}
	_, changed := mergeSessionFields("/repo", "main", "{}", attrs)
	if changed {
		t.Error("expected no change for an attrs struct with nothing new")
	}
}

func TestMergeSessionFields_NestedValuesDoNotPanic(t *testing.T) {
	existingMeta := `{"tags":["a","b"],"env":{"os":"linux"}}`
	attrs := SessionAttrs{Metadata: map[string]any{
		"tags": []any{"a", "b"},
		"env":  map[string]any{"os": "linux"},
	}}
	if _, changed := mergeSessionFields("/repo", "main", existingMeta, attrs); changed {
		t.Error("expected no change when nested values are equal, not a panic")
	}

	attrs2 := SessionAttrs{Metadata: map[string]any{"tags": []any{"a", "b", "c"}}}
	if _, changed := mergeSessionFields("/repo", "main", existingMeta, attrs2); !changed {
		t.Error("expected a change when a nested array value differs")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
