package classifier

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/tokens"
)

// ungroundedExempt lists fields whose drafted values are formats rather than
// words from the conversation.
var ungroundedExempt = []model.Field{
	model.FieldVisitDate,
	model.FieldDiagnosisICD10,
	model.FieldDiagnosisStage,
}

// ApplyDraft folds drafted field values into cs. A drafted field is used
// only when the rules found nothing for it, and each drafted item must be
// grounded in the transcript: every content word of the item, stemmed, has
// to occur in some utterance. Ungrounded items are dropped with a warning.
// Drafted complaints, diagnoses and medications join the structured lists
// so that the merger treats them like rule matches.
func (c *Classifier) ApplyDraft(cs *Candidates, draft map[model.Field][]string, t model.Transcript) {
	if len(draft) == 0 {
		return
	}
	texts := make([]string, len(t))
	for i, turn := range t {
		texts[i] = turn.Utterance
	}
	spoken := tokens.NewSet(texts...)

	for _, f := range model.Fields {
		items := draft[f]
		if len(items) == 0 || len(cs.Fields[f]) > 0 || filledByRules(cs, f) {
			continue
		}
		for _, item := range items {
			if !slices.Contains(ungroundedExempt, f) && !grounded(item, spoken) {
				cs.Warnings = append(cs.Warnings, model.Warning{
					Field:   f,
					Code:    model.WarnUngroundedDraft,
					Message: fmt.Sprintf("drafted value %q does not appear in the transcript", item),
				})
				continue
			}
			c.addDrafted(cs, f, item)
			cs.Drafted[f] = true
		}
	}
}

// filledByRules reports whether the structured candidate lists already
// supply f.
func filledByRules(cs *Candidates, f model.Field) bool {
	switch f {
	case model.FieldChiefComplaint:
		return len(cs.Complaints) > 0
	case model.FieldDiagnosisLabel:
		return len(cs.Diagnoses) > 0
	case model.FieldDiagnosisStage:
		for _, d := range cs.Diagnoses {
			if d.Stage != "" {
				return true
			}
		}
	case model.FieldPlanMedications:
		return len(cs.Medications) > 0
	}
	return false
}

func grounded(item string, spoken tokens.Set) bool {
	words := tokens.Tokenize(item)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if _, ok := spoken[w]; !ok {
			return false
		}
	}
	return true
}

func (c *Classifier) addDrafted(cs *Candidates, f model.Field, item string) {
	switch f {
	case model.FieldChiefComplaint:
		cs.Complaints = append(cs.Complaints, Complaint{Turn: -1, Text: item, Symptoms: []string{strings.ToLower(item)}})
	case model.FieldDiagnosisLabel:
		cs.Diagnoses = upsertDiagnosis(cs.Diagnoses, c.newDiagnosis(item))
	case model.FieldPlanMedications:
		cs.Medications = upsertMedication(cs.Medications, c.medicationFromItem(item))
	default:
		cs.add(f, item)
	}
}
