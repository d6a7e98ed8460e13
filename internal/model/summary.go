package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rcliao/clinical-summary/internal/errors"
)

// Field names one of the canonical summary fields.
type Field string

const (
	FieldVisitDate       Field = "Visit_Date"
	FieldChiefComplaint  Field = "Chief_Complaint"
	FieldDiagnosisICD10  Field = "Diagnosis_ICD10"
	FieldDiagnosisLabel  Field = "Diagnosis_Label"
	FieldDiagnosisStage  Field = "Diagnosis_Stage"
	FieldSymptoms        Field = "Symptoms"
	FieldExamFindings    Field = "Exam_Findings"
	FieldInvestigations  Field = "Investigations"
	FieldTestsOrdered    Field = "Tests_Ordered"
	FieldPlanTherapy     Field = "Plan_Therapy"
	FieldPlanMedications Field = "Plan_Medications"
	FieldPlanAssistive   Field = "Plan_Assistive"
	FieldPlanFollowUp    Field = "Plan_Follow_Up"
)

// Fields lists the 13 canonical fields in output order.
var Fields = []Field{
	FieldVisitDate,
	FieldChiefComplaint,
	FieldDiagnosisICD10,
	FieldDiagnosisLabel,
	FieldDiagnosisStage,
	FieldSymptoms,
	FieldExamFindings,
	FieldInvestigations,
	FieldTestsOrdered,
	FieldPlanTherapy,
	FieldPlanMedications,
	FieldPlanAssistive,
	FieldPlanFollowUp,
}

// ParseField matches s case-insensitively against the canonical names.
func ParseField(s string) (Field, error) {
	s = strings.TrimSpace(s)
	for _, f := range Fields {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", errors.NewValidation("field", `unknown field "`+s+`"`)
}

// Provenance records where a field value came from.
type Provenance string

const (
	ProvenanceCurrent  Provenance = "current_encounter"
	ProvenanceHistory  Provenance = "history"
	ProvenanceInferred Provenance = "inferred"
)

// ItemSeparator joins list items into a single field value.
const ItemSeparator = "; "

// FieldValue is the value of one canonical field.
type FieldValue struct {
	Items      []string   `json:"items"`
	Provenance Provenance `json:"provenance"`
	Flagged    bool       `json:"flagged,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Value joins the items; an empty field yields "".
func (v FieldValue) Value() string {
	return strings.Join(v.Items, ItemSeparator)
}

// IsEmpty reports whether the field carries no value.
func (v FieldValue) IsEmpty() bool {
	return len(v.Items) == 0
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	items := v.Items
	if items == nil {
		items = []string{}
	}
	return json.Marshal(struct {
		Value      string     `json:"value"`
		Items      []string   `json:"items"`
		Provenance Provenance `json:"provenance"`
		Flagged    bool       `json:"flagged,omitempty"`
		Reason     string     `json:"reason,omitempty"`
	}{v.Value(), items, v.Provenance, v.Flagged, v.Reason})
}

// FieldSet maps every canonical field to its value.
type FieldSet map[Field]FieldValue

// MarshalJSON writes all 13 fields in canonical order, empty ones included.
func (fs FieldSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(f))
		buf.Write(key)
		buf.WriteByte(':')
		b, err := json.Marshal(fs[f])
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Warning is a non-fatal condition raised while merging or building.
type Warning struct {
	Field   Field  `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Warning codes.
const (
	WarnFieldValidation       = "field_validation"
	WarnAmbiguousReactivation = "ambiguous_reactivation"
	WarnUngroundedDraft       = "ungrounded_draft"
	WarnBudgetTruncation      = "budget_truncation"
)

// StructuredSummary is the canonical output for one encounter.
type StructuredSummary struct {
	EncounterID   string    `json:"encounter_id"`
	PatientID     string    `json:"patient_id"`
	EncounterDate Date      `json:"encounter_date"`
	Fields        FieldSet  `json:"fields"`
	Warnings      []Warning `json:"warnings,omitempty"`
}
