// Package summary validates merged fields into the canonical structured
// summary, renders it and decomposes it back into record entries.
package summary

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rcliao/clinical-summary/internal/errors"
	"github.com/rcliao/clinical-summary/internal/logging"
	"github.com/rcliao/clinical-summary/internal/merge"
	"github.com/rcliao/clinical-summary/internal/metrics"
	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/store"
)

var icd10Re = regexp.MustCompile(`^[A-TV-Z][0-9][0-9AB](?:\.[0-9A-TV-Z]{1,4})?$`)

// Builder finalizes merged fields into a StructuredSummary.
type Builder struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// NewBuilder returns a Builder. Both arguments may be nil.
func NewBuilder(log *zap.Logger, m *metrics.Metrics) *Builder {
	return &Builder{
		log:     logging.OrNop(log),
		metrics: m,
		newID:   uuid.NewString,
	}
}

// Input is everything Build needs for one encounter.
type Input struct {
	PatientID     string
	Transcript    model.Transcript
	EncounterDate model.Date
	Merged        *merge.Result
}

// Validate rejects an encounter that cannot be summarized at all.
func Validate(patientID string, t model.Transcript) error {
	if strings.TrimSpace(patientID) == "" {
		return errors.NewValidation("patient_id", "is required")
	}
	if len(t) == 0 {
		return errors.NewValidation("transcript", "has no turns")
	}
	return t.Validate()
}

// Build validates the merged fields and assembles the summary. Fields that
// fail validation are cleared and flagged rather than failing the build.
func (b *Builder) Build(in Input) (*model.StructuredSummary, error) {
	if err := Validate(in.PatientID, in.Transcript); err != nil {
		return nil, err
	}
	if in.Merged == nil {
		return nil, errors.NewInternal(fmt.Errorf("build: no merged fields"))
	}

	fields := make(model.FieldSet, len(model.Fields))
	for _, f := range model.Fields {
		fields[f] = in.Merged.Fields[f]
	}
	warnings := append([]model.Warning(nil), in.Merged.Warnings...)

	flag := func(f model.Field, reason string) {
		v := fields[f]
		fields[f] = model.FieldValue{Provenance: v.Provenance, Flagged: true, Reason: reason}
		warnings = append(warnings, model.Warning{Field: f, Code: model.WarnFieldValidation, Message: reason})
		b.log.Warn("field failed validation", zap.String("field", string(f)), zap.String("reason", reason))
	}

	date := in.EncounterDate
	if v := fields[model.FieldVisitDate]; !v.IsEmpty() {
		d, err := model.ParseDate(v.Value())
		switch {
		case err != nil || len(v.Items) != 1:
			flag(model.FieldVisitDate, fmt.Sprintf("invalid calendar date %q", v.Value()))
		case date.IsZero():
			date = d
		}
	}
	if v := fields[model.FieldDiagnosisICD10]; !v.IsEmpty() {
		for _, code := range v.Items {
			if !icd10Re.MatchString(code) {
				flag(model.FieldDiagnosisICD10, fmt.Sprintf("invalid ICD-10 code %q", code))
				break
			}
		}
	}

	for _, w := range warnings {
		b.metrics.RecordFieldWarning(string(w.Field))
	}

	return &model.StructuredSummary{
		EncounterID:   b.newID(),
		PatientID:     in.PatientID,
		EncounterDate: date,
		Fields:        fields,
		Warnings:      warnings,
	}, nil
}

// Decompose turns a summary into the entries that record it: the full label
// block as summary_notes plus one entry per populated encounter field that
// has a category of its own. Values carried over from history are not
// recorded again.
func Decompose(s *model.StructuredSummary) ([]store.AppendParams, error) {
	if s.EncounterDate.IsZero() {
		return nil, errors.NewValidation("encounter_date", "is required to record a summary")
	}
	date := s.EncounterDate.String()
	entry := func(c model.Category, text string) store.AppendParams {
		return store.AppendParams{PatientID: s.PatientID, Text: text, Category: string(c), Date: date}
	}
	label := func(fs ...model.Field) string {
		var lines []string
		for _, f := range fs {
			if v := s.Fields[f]; !v.IsEmpty() {
				lines = append(lines, string(f)+": "+v.Value())
			}
		}
		return strings.Join(lines, "\n")
	}
	fromEncounter := func(f model.Field) bool {
		v := s.Fields[f]
		return !v.IsEmpty() && v.Provenance == model.ProvenanceCurrent
	}

	out := []store.AppendParams{entry(model.CategorySummaryNotes, strings.TrimRight(model.FormatFields(s.Fields), "\n"))}
	if fromEncounter(model.FieldChiefComplaint) {
		out = append(out, entry(model.CategoryNewComplaint, label(model.FieldChiefComplaint, model.FieldSymptoms)))
	}
	if fromEncounter(model.FieldExamFindings) {
		out = append(out, entry(model.CategoryExam, label(model.FieldExamFindings)))
	}
	if fromEncounter(model.FieldPlanMedications) {
		out = append(out, entry(model.CategoryPrescriptions, label(model.FieldPlanMedications)))
	}
	if fromEncounter(model.FieldPlanFollowUp) {
		out = append(out, entry(model.CategoryAppointments, label(model.FieldPlanFollowUp)))
	}
	return out, nil
}
