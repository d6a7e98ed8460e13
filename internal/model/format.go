package model

import (
	"regexp"
	"strings"
)

// FormatFields renders fields as the label block: one "Field: value" line
// per canonical field, in order, empty fields kept as bare labels.
func FormatFields(fs FieldSet) string {
	var b strings.Builder
	for _, f := range Fields {
		b.WriteString(string(f))
		b.WriteString(":")
		if v := fs[f].Value(); v != "" {
			b.WriteString(" ")
			b.WriteString(v)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var labelLine = regexp.MustCompile(`^\s*(?:[-*]\s*)?\**([A-Za-z][A-Za-z0-9_ ]*?)\**\s*:\s*(.*)$`)

// ParseFields extracts "Field: value" pairs from a label block. Unknown
// labels and free text are ignored; lines following a label without a label
// of their own continue that field's value.
func ParseFields(text string) map[Field]string {
	out := map[Field]string{}
	var current Field
	for _, line := range strings.Split(text, "\n") {
		if m := labelLine.FindStringSubmatch(line); m != nil {
			name := strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "_")
			if f, err := ParseField(name); err == nil {
				current = f
				out[f] = strings.TrimSpace(m[2])
				continue
			}
		}
		trimmed := strings.TrimSpace(line)
		if current == "" {
			continue
		}
		if trimmed == "" {
			current = ""
			continue
		}
		if out[current] == "" {
			out[current] = trimmed
		} else {
			out[current] += "\n" + trimmed
		}
	}
	return out
}

// SplitItems breaks a field value into list items. Bullet lines and
// semicolons separate items; commas do only when neither is present.
func SplitItems(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var parts []string
	switch {
	case strings.Contains(value, "\n"):
		parts = strings.Split(value, "\n")
	case strings.Contains(value, ";"):
		parts = strings.Split(value, ";")
	default:
		parts = strings.Split(value, ",")
	}
	var items []string
	for _, p := range parts {
		for _, q := range strings.Split(p, ";") {
			q = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(q), "-*•"))
			if q != "" && !isPlaceholder(q) {
				items = append(items, q)
			}
		}
	}
	return items
}

func isPlaceholder(s string) bool {
	switch strings.ToLower(s) {
	case "none", "n/a", "na", "-", "(none)", "(empty)", "not mentioned", "not specified":
		return true
	}
	return false
}
