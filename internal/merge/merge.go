// Package merge combines the candidates extracted from an encounter with the
// patient's history under per-field precedence rules.
package merge

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rcliao/clinical-summary/internal/classifier"
	"github.com/rcliao/clinical-summary/internal/model"
)

// Options are the explicit inputs that do not come from the transcript or
// the history.
type Options struct {
	// EncounterDate is the date of the visit, zero when the caller does not
	// know it.
	EncounterDate model.Date
	// IngestedAt is the fallback for Visit_Date. It is never read from the
	// clock here.
	IngestedAt time.Time
}

// Result is the merged field set and the warnings raised while merging.
type Result struct {
	Fields   model.FieldSet
	Warnings []model.Warning
}

// scoped fields are taken from the current encounter only.
var scoped = []model.Field{
	model.FieldSymptoms,
	model.FieldExamFindings,
	model.FieldInvestigations,
	model.FieldTestsOrdered,
	model.FieldPlanTherapy,
	model.FieldPlanAssistive,
}

// Merge resolves every canonical field from the encounter candidates and
// the facts read from history. It is a pure function: equal inputs give
// equal results.
func Merge(cands *classifier.Candidates, facts *classifier.Facts, opts Options) *Result {
	if facts == nil {
		facts = &classifier.Facts{}
	}
	res := &Result{Fields: make(model.FieldSet, len(model.Fields))}
	res.Warnings = append(res.Warnings, cands.Warnings...)

	res.Fields[model.FieldVisitDate] = visitDate(cands, opts)
	res.Fields[model.FieldChiefComplaint] = chiefComplaint(cands, facts)
	mergeDiagnoses(res, cands, facts)
	res.Fields[model.FieldPlanMedications] = medications(cands, facts)
	res.Fields[model.FieldPlanFollowUp] = followUp(cands, facts)

	for _, f := range scoped {
		res.Fields[f] = current(cands, f, slices.Clone(cands.Fields[f]))
	}
	return res
}

func current(cands *classifier.Candidates, f model.Field, items []string) model.FieldValue {
	v := model.FieldValue{Items: items, Provenance: model.ProvenanceCurrent}
	if len(items) > 0 && cands.Drafted[f] {
		v.Reason = "drafted"
	}
	return v
}

func visitDate(cands *classifier.Candidates, opts Options) model.FieldValue {
	switch {
	case !opts.EncounterDate.IsZero():
		return model.FieldValue{Items: []string{opts.EncounterDate.String()}, Provenance: model.ProvenanceCurrent}
	case len(cands.Fields[model.FieldVisitDate]) > 0:
		return current(cands, model.FieldVisitDate, cands.Fields[model.FieldVisitDate][:1])
	case !opts.IngestedAt.IsZero():
		return model.FieldValue{
			Items:      []string{model.DateOf(opts.IngestedAt).String()},
			Provenance: model.ProvenanceInferred,
			Reason:     "ingestion time",
		}
	}
	return model.FieldValue{Provenance: model.ProvenanceInferred}
}

// chiefComplaint picks the first complaint that introduces a symptom the
// history has not seen. Without one the first complaint is used, and without
// any the complaint of the most recent historical summary carries over.
func chiefComplaint(cands *classifier.Candidates, facts *classifier.Facts) model.FieldValue {
	for _, c := range cands.Complaints {
		for _, sym := range c.Symptoms {
			if !facts.HasSymptom(sym) {
				return current(cands, model.FieldChiefComplaint, []string{complaintValue(c, sym)})
			}
		}
	}
	if len(cands.Complaints) > 0 {
		c := cands.Complaints[0]
		return current(cands, model.FieldChiefComplaint, []string{complaintValue(c, c.Symptoms[0])})
	}
	for i := len(facts.Complaints) - 1; i >= 0; i-- {
		if c := facts.Complaints[i]; c.Category == model.CategorySummaryNotes {
			return model.FieldValue{Items: []string{c.Text}, Provenance: model.ProvenanceHistory}
		}
	}
	return model.FieldValue{Provenance: model.ProvenanceCurrent}
}

func complaintValue(c classifier.Complaint, sym string) string {
	if c.Turn < 0 {
		return c.Text
	}
	return sym
}

type mergedDiagnosis struct {
	classifier.Diagnosis
	current bool
}

func mergeDiagnoses(res *Result, cands *classifier.Candidates, facts *classifier.Facts) {
	var list []mergedDiagnosis
	index := func(key string) int {
		return slices.IndexFunc(list, func(d mergedDiagnosis) bool { return d.Key == key })
	}
	var warned []string
	warn := func(label, key string) {
		if slices.Contains(warned, key) {
			return
		}
		warned = append(warned, key)
		res.Warnings = append(res.Warnings, model.Warning{
			Field:   model.FieldDiagnosisLabel,
			Code:    model.WarnAmbiguousReactivation,
			Message: fmt.Sprintf("%q was resolved in history and is mentioned again without reactivation", label),
		})
	}

	for _, d := range facts.Diagnoses {
		if slices.Contains(cands.Resolved, d.Key) {
			continue
		}
		list = append(list, mergedDiagnosis{Diagnosis: d})
	}

	for _, d := range cands.Diagnoses {
		if slices.Contains(cands.Resolved, d.Key) {
			continue
		}
		if facts.IsResolved(d.Key) && !slices.Contains(cands.Reactivated, d.Key) {
			warn(d.Label, d.Key)
			continue
		}
		if i := index(d.Key); i >= 0 {
			prev := list[i].Diagnosis
			if d.Stage == "" {
				d.Stage = prev.Stage
			}
			if d.ICD10 == "" {
				d.ICD10 = prev.ICD10
			}
			list[i] = mergedDiagnosis{Diagnosis: d, current: true}
			continue
		}
		list = append(list, mergedDiagnosis{Diagnosis: d, current: true})
	}

	// reactivation alone brings a resolved condition back; a hint does not
	for _, key := range cands.Reactivated {
		if facts.IsResolved(key) && index(key) < 0 {
			list = append(list, mergedDiagnosis{Diagnosis: classifier.Diagnosis{Label: key, Key: key}, current: true})
		}
	}
	for _, key := range cands.Recurring {
		if facts.IsResolved(key) && !slices.Contains(cands.Reactivated, key) {
			warn(key, key)
		}
	}

	var labels, codes, stages []string
	var labelsCur, codesCur, stagesCur bool
	staged := 0
	for _, d := range list {
		if d.Stage != "" {
			staged++
		}
	}
	for _, d := range list {
		labels = append(labels, d.Label)
		labelsCur = labelsCur || d.current
		if d.ICD10 != "" && !slices.Contains(codes, d.ICD10) {
			codes = append(codes, d.ICD10)
			codesCur = codesCur || d.current
		}
		if d.Stage != "" {
			s := d.Stage
			if staged > 1 {
				s = d.Key + ": " + d.Stage
			}
			stages = append(stages, s)
			stagesCur = stagesCur || d.current
		}
	}
	for _, code := range facts.Codes {
		if !slices.Contains(codes, code) {
			codes = append(codes, code)
		}
	}
	for _, code := range cands.Fields[model.FieldDiagnosisICD10] {
		code = strings.ToUpper(code)
		if !slices.Contains(codes, code) {
			codes = append(codes, code)
			codesCur = true
		}
	}

	res.Fields[model.FieldDiagnosisLabel] = listValue(cands, model.FieldDiagnosisLabel, labels, labelsCur)
	res.Fields[model.FieldDiagnosisICD10] = listValue(cands, model.FieldDiagnosisICD10, codes, codesCur)
	res.Fields[model.FieldDiagnosisStage] = listValue(cands, model.FieldDiagnosisStage, stages, stagesCur)
}

// medications continues every historical medication that was not
// discontinued now, then adds the ones prescribed now.
func medications(cands *classifier.Candidates, facts *classifier.Facts) model.FieldValue {
	type med struct {
		classifier.Medication
		current bool
	}
	var list []med
	for _, m := range facts.Medications {
		if slices.Contains(cands.Discontinued, m.Key) {
			continue
		}
		list = append(list, med{Medication: m})
	}
	for _, m := range cands.Medications {
		if i := slices.IndexFunc(list, func(x med) bool { return x.Key == m.Key }); i >= 0 {
			// a bare restatement keeps the dosage on record
			if strings.EqualFold(m.Text, m.Key) {
				m.Text = list[i].Text
			}
			list[i] = med{Medication: m, current: true}
			continue
		}
		list = append(list, med{Medication: m, current: true})
	}

	var items []string
	anyCurrent := false
	for _, m := range list {
		items = append(items, m.Text)
		anyCurrent = anyCurrent || m.current
	}
	return listValue(cands, model.FieldPlanMedications, items, anyCurrent)
}

func followUp(cands *classifier.Candidates, facts *classifier.Facts) model.FieldValue {
	if items := cands.Fields[model.FieldPlanFollowUp]; len(items) > 0 {
		return current(cands, model.FieldPlanFollowUp, slices.Clone(items))
	}
	if n := len(facts.FollowUps); n > 0 {
		return model.FieldValue{Items: []string{facts.FollowUps[n-1].Text}, Provenance: model.ProvenanceHistory}
	}
	return model.FieldValue{Provenance: model.ProvenanceCurrent}
}

// listValue attributes a mixed list to the encounter when any item is new
// or updated, and to history otherwise.
func listValue(cands *classifier.Candidates, f model.Field, items []string, anyCurrent bool) model.FieldValue {
	if len(items) == 0 || anyCurrent {
		return current(cands, f, items)
	}
	return model.FieldValue{Items: items, Provenance: model.ProvenanceHistory}
}
