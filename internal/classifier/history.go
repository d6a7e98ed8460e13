package classifier

import (
	"slices"
	"strings"

	"github.com/rcliao/clinical-summary/internal/chunker"
	"github.com/rcliao/clinical-summary/internal/model"
)

// Dated is a historical value with the date and category of the entry that
// stated it.
type Dated struct {
	Date     model.Date     `json:"date"`
	Text     string         `json:"text"`
	Category model.Category `json:"category"`
	EntryID  string         `json:"entry_id"`
}

// Facts is the clinical state carried by a set of history entries, after
// applying them oldest first.
type Facts struct {
	Complaints  []Dated      `json:"complaints,omitempty"`
	Symptoms    []string     `json:"symptoms,omitempty"`
	Diagnoses   []Diagnosis  `json:"diagnoses,omitempty"` // active only
	Resolved    []string     `json:"resolved,omitempty"`  // diagnosis keys
	Medications []Medication `json:"medications,omitempty"`
	Codes       []string     `json:"codes,omitempty"`
	FollowUps   []Dated      `json:"follow_ups,omitempty"`
}

// HistoryFacts reads history entries with the lexicon. Entries written in
// the label block format are read field by field; other entries are read
// sentence by sentence according to their category. A summary_notes entry
// in label format replaces the active diagnoses and medications it lists.
func (c *Classifier) HistoryFacts(entries []model.RecordEntry) *Facts {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b model.RecordEntry) int {
		if n := a.Date.Compare(b.Date); n != 0 {
			return n
		}
		return int(a.Seq - b.Seq)
	})

	f := &Facts{}
	for _, e := range sorted {
		if fields := model.ParseFields(e.Text); len(fields) > 0 {
			c.applyLabelled(f, e, fields)
			continue
		}
		c.applyFreeText(f, e)
	}
	return f
}

func (c *Classifier) applyLabelled(f *Facts, e model.RecordEntry, fields map[model.Field]string) {
	dated := func(v string) Dated { return Dated{Date: e.Date, Text: v, Category: e.Category, EntryID: e.ID} }

	if v := strings.TrimSpace(fields[model.FieldChiefComplaint]); v != "" {
		f.Complaints = append(f.Complaints, dated(v))
	}
	for _, s := range model.SplitItems(fields[model.FieldSymptoms]) {
		f.Symptoms = appendUnique(f.Symptoms, strings.ToLower(s))
	}

	stages := model.SplitItems(fields[model.FieldDiagnosisStage])
	labels := model.SplitItems(fields[model.FieldDiagnosisLabel])
	codes := model.SplitItems(fields[model.FieldDiagnosisICD10])
	// a summary lists every active diagnosis and medication, so anything it
	// leaves out is no longer current
	snapshot := e.Category == model.CategorySummaryNotes
	if snapshot && len(labels) > 0 {
		for _, d := range slices.Clone(f.Diagnoses) {
			if !slices.ContainsFunc(labels, func(l string) bool { return c.diagnosisKey(l) == d.Key }) {
				f.resolve(d.Key)
			}
		}
	}
	for i, label := range labels {
		d := c.newDiagnosis(label)
		d.Stage = stageFor(d, stages, len(labels))
		if len(codes) == len(labels) {
			d.ICD10 = strings.ToUpper(codes[i])
		}
		f.activate(d)
	}
	if len(codes) != len(labels) {
		for _, code := range codes {
			f.Codes = appendUnique(f.Codes, strings.ToUpper(code))
		}
	}

	meds := model.SplitItems(fields[model.FieldPlanMedications])
	if snapshot && len(meds) > 0 {
		f.Medications = nil
	}
	for _, item := range meds {
		f.Medications = replaceMedication(f.Medications, c.medicationFromItem(item))
	}
	if v := strings.TrimSpace(fields[model.FieldPlanFollowUp]); v != "" {
		f.FollowUps = append(f.FollowUps, dated(v))
	}
}

func (c *Classifier) applyFreeText(f *Facts, e model.RecordEntry) {
	text := strings.TrimSpace(e.Text)
	dated := func(v string) Dated {
		return Dated{Date: e.Date, Text: trimSentence(v), Category: e.Category, EntryID: e.ID}
	}
	switch e.Category {
	case model.CategoryAppointments:
		f.FollowUps = append(f.FollowUps, dated(text))
	case model.CategoryNewComplaint:
		f.Complaints = append(f.Complaints, dated(text))
	}

	complained := false
	for _, s := range chunker.Split(text) {
		syms := c.symptomsIn(s)
		for _, sym := range syms {
			f.Symptoms = appendUnique(f.Symptoms, sym)
		}
		// the first symptom sentence of a free-text note is its complaint
		if e.Category == model.CategorySummaryNotes && len(syms) > 0 && !complained {
			f.Complaints = append(f.Complaints, dated(s))
			complained = true
		}

		drugs := c.drugs.find(s)
		for i, m := range drugs {
			switch {
			case c.governs(s, c.discontinue, m.start):
				f.Medications = slices.DeleteFunc(f.Medications, func(x Medication) bool { return x.Key == m.term })
			case c.negated(s, m.start):
			default:
				f.Medications = replaceMedication(f.Medications, Medication{Key: m.term, Text: medicationText(s, drugs, i)})
			}
		}

		if d, ok := c.diagnosisIn(s); ok {
			f.activate(d)
		}
		for _, code := range c.icdCodes(s) {
			f.Codes = appendUnique(f.Codes, code)
		}
		for _, m := range c.diagnoses.find(s) {
			switch c.statusOf(s, m.start) {
			case statusResolved:
				f.resolve(m.term)
			case statusReactivated:
				f.Resolved = slices.DeleteFunc(f.Resolved, func(k string) bool { return k == m.term })
			}
		}
	}
}

// activate records d as active, replacing an earlier statement of the same
// condition in place.
func (f *Facts) activate(d Diagnosis) {
	f.Resolved = slices.DeleteFunc(f.Resolved, func(k string) bool { return k == d.Key })
	f.Diagnoses = upsertDiagnosis(f.Diagnoses, d)
}

func (f *Facts) resolve(key string) {
	f.Diagnoses = slices.DeleteFunc(f.Diagnoses, func(d Diagnosis) bool { return d.Key == key })
	f.Resolved = appendUnique(f.Resolved, key)
}

// IsResolved reports whether a diagnosis key was resolved in history and not
// since reasserted.
func (f *Facts) IsResolved(key string) bool {
	return slices.Contains(f.Resolved, key)
}

// HasSymptom reports whether history mentions sym.
func (f *Facts) HasSymptom(sym string) bool {
	return slices.Contains(f.Symptoms, strings.ToLower(sym))
}

func (c *Classifier) medicationFromItem(item string) Medication {
	if m, ok := c.drugs.first(item); ok {
		return Medication{Key: m.term, Text: item}
	}
	return Medication{Key: normalize(item), Text: item}
}

// stageFor picks the stage of d from a Diagnosis_Stage list. Items of the
// form "key: stage" are matched by key; a lone stage applies to a lone
// diagnosis.
func stageFor(d Diagnosis, stages []string, diagnoses int) string {
	for _, s := range stages {
		if k, v, ok := strings.Cut(s, ":"); ok && normalize(k) == d.Key {
			return strings.TrimSpace(v)
		}
	}
	if len(stages) == 1 && diagnoses == 1 && !strings.Contains(stages[0], ":") {
		return stages[0]
	}
	return d.Stage
}

// replaceMedication updates the entry for m.Key. A bare drug name keeps the
// dosage already on record.
func replaceMedication(meds []Medication, m Medication) []Medication {
	for i := range meds {
		if meds[i].Key == m.Key {
			if !strings.EqualFold(m.Text, m.Key) {
				meds[i] = m
			}
			return meds
		}
	}
	return append(meds, m)
}
