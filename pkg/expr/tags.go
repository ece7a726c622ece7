package expr

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`\$([A-Za-z](?:[A-Za-z_.0-9]*[A-Za-z0-9_])?)`)

// Tag is one `$name` reference found in free text or an expression.
type Tag struct {
	// Raw is the text as written, including the leading `$`.
	Raw string
	// Name is the full dotted name without `$`.
	Name string
	// ID is the part before the first dot.
	ID string
	// Accessor is the part after the first dot, empty when absent.
	Accessor string
}

// Tags returns the distinct `$name` references in s in order of first appearance.
func Tags(s string) []Tag {
	matches := tagPattern.FindAllStringSubmatch(s, -1)
	tags := make([]Tag, 0, len(matches))
	seen := map[string]bool{}
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		tags = append(tags, newTag(m[0], m[1]))
	}
	return tags
}

// ReplaceTags replaces every `$name` reference in s with repl(tag) in a single pass.
// Replacement text is never scanned again.
func ReplaceTags(s string, repl func(Tag) string) string {
	return tagPattern.ReplaceAllStringFunc(s, func(raw string) string {
		return repl(newTag(raw, raw[1:]))
	})
}

func newTag(raw, name string) Tag {
	t := Tag{Raw: raw, Name: name, ID: name}
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		t.ID = name[:idx]
		t.Accessor = name[idx+1:]
	}
	return t
}

// Identifiers returns the distinct variable ids (the part before any accessor)
// referenced in s, in first-appearance order.
func Identifiers(s string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, t := range Tags(s) {
		if !seen[t.ID] {
			seen[t.ID] = true
			ids = append(ids, t.ID)
		}
	}
	return ids
}
