package retriever

import (
	"fmt"
	"strings"

	"github.com/rcliao/clinical-summary/internal/model"
)

// Entry is a ranked history entry admitted into a window. When Truncated is
// set, Text holds only the kept prefix and OriginalChars the full length.
type Entry struct {
	model.RecordEntry
	Score         float64 `json:"score"`
	Truncated     bool    `json:"truncated,omitempty"`
	OriginalChars int     `json:"original_chars,omitempty"`
}

// Window is the ranked, budget-bounded subset of a timeline used for one
// encounter.
type Window struct {
	PatientID     string     `json:"patient_id"`
	ReferenceDate model.Date `json:"reference_date"`
	MaxEntries    int        `json:"max_entries"`
	MaxChars      int        `json:"max_chars"`
	UsedChars     int        `json:"used_chars"`
	Condition     string     `json:"condition,omitempty"`
	Entries       []Entry    `json:"entries"`
}

// Truncated reports whether any admitted entry was cut.
func (w *Window) Truncated() bool {
	for _, e := range w.Entries {
		if e.Truncated {
			return true
		}
	}
	return false
}

// Records returns the admitted entries without ranking metadata.
func (w *Window) Records() []model.RecordEntry {
	out := make([]model.RecordEntry, len(w.Entries))
	for i, e := range w.Entries {
		out[i] = e.RecordEntry
	}
	return out
}

// Format renders the window as a records briefing grouped by category.
// Categories appear in the order of their best-ranked entry.
func (w *Window) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== MEDICAL RECORDS FOR PATIENT: %s ===\n", strings.ToUpper(w.PatientID))
	if w.Condition != "" {
		fmt.Fprintf(&b, "Condition: %s\n", w.Condition)
	}
	if len(w.Entries) == 0 {
		b.WriteString("\nNo prior records.\n")
		return b.String()
	}

	var order []model.Category
	groups := make(map[model.Category][]Entry)
	for _, e := range w.Entries {
		if _, ok := groups[e.Category]; !ok {
			order = append(order, e.Category)
		}
		groups[e.Category] = append(groups[e.Category], e)
	}

	for _, c := range order {
		fmt.Fprintf(&b, "\n--- %s ---\n", strings.ToUpper(strings.ReplaceAll(string(c), "_", " ")))
		for _, e := range groups[c] {
			fmt.Fprintf(&b, "Date: %s\n", e.Date)
			text := e.Text
			if e.Truncated {
				text += " [truncated]"
			}
			fmt.Fprintf(&b, "Details: %s\n\n", text)
		}
	}
	return b.String()
}
