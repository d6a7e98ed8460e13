package summary

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/rcliao/clinical-summary/internal/model"
)

// Render returns the label block: one "Field: value" line per field.
func Render(s *model.StructuredSummary) string {
	return model.FormatFields(s.Fields)
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`, "#", `\#`,
)

// RenderMarkdown renders the summary as a Markdown document with one bullet
// per field. Values from history and flagged values are annotated.
func RenderMarkdown(s *model.StructuredSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Encounter summary: %s\n\n", mdEscaper.Replace(s.PatientID))
	if !s.EncounterDate.IsZero() {
		fmt.Fprintf(&b, "Encounter date: %s\n\n", s.EncounterDate)
	}
	for _, f := range model.Fields {
		v := s.Fields[f]
		name := strings.ReplaceAll(string(f), "_", " ")
		fmt.Fprintf(&b, "- **%s**: ", name)
		if v.IsEmpty() {
			b.WriteString("*none*")
		} else {
			b.WriteString(mdEscaper.Replace(v.Value()))
		}
		if !v.IsEmpty() && v.Provenance != model.ProvenanceCurrent {
			fmt.Fprintf(&b, " *(%s)*", v.Provenance)
		}
		if v.Flagged {
			fmt.Fprintf(&b, " *(flagged: %s)*", mdEscaper.Replace(v.Reason))
		}
		b.WriteString("\n")
	}
	if len(s.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "- %s: %s\n", w.Code, mdEscaper.Replace(w.Message))
		}
	}
	return b.String()
}

// RenderHTML converts the Markdown rendering to HTML.
func RenderHTML(s *model.StructuredSummary) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(RenderMarkdown(s)), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
