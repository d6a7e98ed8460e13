package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/clinical-summary/internal/classifier"
	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/store"
)

func testdata(name string) string {
	return filepath.Join("..", "..", "testdata", name)
}

func tomasHistory(t *testing.T, cl *classifier.Classifier) *classifier.Facts {
	t.Helper()
	f, err := os.Open(testdata("tomas.json"))
	require.NoError(t, err)
	defer f.Close()

	records, err := store.DecodeRecords(f)
	require.NoError(t, err)
	s := store.NewMemoryStore()
	_, err = store.Import(context.Background(), s, records)
	require.NoError(t, err)

	entries, err := store.Collect(s.Query(context.Background(), store.QueryParams{PatientID: "tomas"}))
	require.NoError(t, err)
	return cl.HistoryFacts(entries)
}

func tomasCandidates(t *testing.T, cl *classifier.Classifier) *classifier.Candidates {
	t.Helper()
	data, err := os.ReadFile(testdata("tomas_transcript.json"))
	require.NoError(t, err)
	tr, err := model.DecodeTranscript(data)
	require.NoError(t, err)
	return cl.Classify(tr)
}

func TestMerge_Tomas(t *testing.T) {
	cl := classifier.MustDefault()
	res := Merge(tomasCandidates(t, cl), tomasHistory(t, cl), Options{EncounterDate: model.MustDate("2024-03-02")})
	fs := res.Fields

	assert.Equal(t, "2024-03-02", fs[model.FieldVisitDate].Value())
	assert.Equal(t, "knee pain", fs[model.FieldChiefComplaint].Value())
	assert.Equal(t, []string{"mild asthma (stable)", "mild knee strain"}, fs[model.FieldDiagnosisLabel].Items)
	assert.Equal(t, model.ProvenanceCurrent, fs[model.FieldDiagnosisLabel].Provenance)
	assert.Equal(t, []string{"asthma: stable", "strain: mild"}, fs[model.FieldDiagnosisStage].Items)
	assert.Equal(t, model.FieldValue{Items: []string{"J45.20"}, Provenance: model.ProvenanceHistory}, fs[model.FieldDiagnosisICD10])

	assert.Equal(t, []string{"Salbutamol 100 mcg as needed", "Ibuprofen 400 mg three times a day"}, fs[model.FieldPlanMedications].Items)
	assert.Equal(t, model.FieldValue{Items: []string{"in 2 weeks"}, Provenance: model.ProvenanceCurrent}, fs[model.FieldPlanFollowUp])

	assert.Equal(t, []string{"knee pain", "swollen"}, fs[model.FieldSymptoms].Items)
	assert.NotContains(t, fs[model.FieldSymptoms].Value(), "wheezing")
	assert.Equal(t, []string{"ice"}, fs[model.FieldPlanTherapy].Items)
	assert.Empty(t, res.Warnings)
}

func TestMerge_Deterministic(t *testing.T) {
	cl := classifier.MustDefault()
	cands := tomasCandidates(t, cl)
	facts := tomasHistory(t, cl)
	opts := Options{IngestedAt: time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)}

	first := Merge(cands, facts, opts)
	for range 5 {
		assert.Equal(t, first, Merge(cands, facts, opts))
	}
}

func TestMerge_EmptyHistory(t *testing.T) {
	cl := classifier.MustDefault()
	res := Merge(tomasCandidates(t, cl), nil, Options{IngestedAt: time.Date(2024, 3, 2, 23, 0, 0, 0, time.UTC)})
	fs := res.Fields

	assert.Len(t, fs, len(model.Fields))
	assert.Equal(t, model.FieldValue{Items: []string{"2024-03-02"}, Provenance: model.ProvenanceInferred, Reason: "ingestion time"}, fs[model.FieldVisitDate])
	assert.Equal(t, []string{"mild knee strain"}, fs[model.FieldDiagnosisLabel].Items)
	assert.Equal(t, []string{"mild"}, fs[model.FieldDiagnosisStage].Items)
	assert.Equal(t, []string{"Ibuprofen 400 mg three times a day"}, fs[model.FieldPlanMedications].Items)
	assert.True(t, fs[model.FieldDiagnosisICD10].IsEmpty())
}

func TestMerge_MedicationContinuation(t *testing.T) {
	facts := &classifier.Facts{Medications: []classifier.Medication{
		{Key: "salbutamol", Text: "Salbutamol 100 mcg as needed"},
		{Key: "cetirizine", Text: "Cetirizine 10 mg daily"},
		{Key: "naproxen", Text: "Naproxen 250 mg twice a day"},
	}}
	cands := &classifier.Candidates{
		Medications:  []classifier.Medication{{Key: "naproxen", Text: "Naproxen 500 mg twice a day"}, {Key: "ibuprofen", Text: "Ibuprofen"}},
		Discontinued: []string{"cetirizine"},
	}

	v := Merge(cands, facts, Options{}).Fields[model.FieldPlanMedications]
	assert.Equal(t, []string{"Salbutamol 100 mcg as needed", "Naproxen 500 mg twice a day", "Ibuprofen"}, v.Items)
	assert.Equal(t, model.ProvenanceCurrent, v.Provenance)
}

func TestMerge_HistoryOnlyMedicationsKeepHistoryProvenance(t *testing.T) {
	facts := &classifier.Facts{Medications: []classifier.Medication{{Key: "salbutamol", Text: "Salbutamol"}}}
	v := Merge(&classifier.Candidates{}, facts, Options{}).Fields[model.FieldPlanMedications]
	assert.Equal(t, model.FieldValue{Items: []string{"Salbutamol"}, Provenance: model.ProvenanceHistory}, v)
}

func TestMerge_ScopedFieldsNeverInherited(t *testing.T) {
	facts := &classifier.Facts{
		Symptoms:  []string{"wheezing"},
		FollowUps: []classifier.Dated{{Date: model.MustDate("2023-05-12"), Text: "review on 2023-11-20"}},
		Complaints: []classifier.Dated{
			{Date: model.MustDate("2023-01-01"), Text: "cough", Category: model.CategorySummaryNotes},
			{Date: model.MustDate("2023-05-10"), Text: "wheezing at night", Category: model.CategorySummaryNotes},
		},
	}
	res := Merge(&classifier.Candidates{}, facts, Options{})

	for _, f := range scoped {
		assert.True(t, res.Fields[f].IsEmpty(), f)
	}
	assert.Equal(t, model.FieldValue{Items: []string{"review on 2023-11-20"}, Provenance: model.ProvenanceHistory}, res.Fields[model.FieldPlanFollowUp])
	assert.Equal(t, model.FieldValue{Items: []string{"wheezing at night"}, Provenance: model.ProvenanceHistory}, res.Fields[model.FieldChiefComplaint])
}

func TestMerge_ChiefComplaintPrefersNewSymptom(t *testing.T) {
	facts := &classifier.Facts{Symptoms: []string{"cough"}}
	cands := &classifier.Candidates{Complaints: []classifier.Complaint{
		{Turn: 1, Symptoms: []string{"cough"}},
		{Turn: 3, Symptoms: []string{"cough", "back pain"}},
	}}
	assert.Equal(t, "back pain", Merge(cands, facts, Options{}).Fields[model.FieldChiefComplaint].Value())

	cands.Complaints = cands.Complaints[:1]
	assert.Equal(t, "cough", Merge(cands, facts, Options{}).Fields[model.FieldChiefComplaint].Value())
}

func TestMerge_ChiefComplaintFallbackUsesSummaryNotes(t *testing.T) {
	facts := &classifier.Facts{Complaints: []classifier.Dated{
		{Date: model.MustDate("2023-01-01"), Text: "wheezing at night", Category: model.CategorySummaryNotes},
		{Date: model.MustDate("2023-06-01"), Text: "My ankle is sore", Category: model.CategoryNewComplaint},
	}}
	v := Merge(&classifier.Candidates{}, facts, Options{}).Fields[model.FieldChiefComplaint]
	assert.Equal(t, model.FieldValue{Items: []string{"wheezing at night"}, Provenance: model.ProvenanceHistory}, v)

	facts.Complaints = facts.Complaints[1:]
	assert.True(t, Merge(&classifier.Candidates{}, facts, Options{}).Fields[model.FieldChiefComplaint].IsEmpty())
}

// mergeText classifies a transcript against free-text history and merges.
func mergeText(t *testing.T, history []string, tr model.Transcript) *Result {
	t.Helper()
	cl := classifier.MustDefault()
	var entries []model.RecordEntry
	for i, text := range history {
		entries = append(entries, model.RecordEntry{
			ID:       string(rune('a' + i)),
			Seq:      int64(i + 1),
			Category: model.CategorySummaryNotes,
			Date:     model.DateOf(time.Date(2023, 5, 10+i, 0, 0, 0, 0, time.UTC)),
			Text:     text,
		})
	}
	return Merge(cl.Classify(tr), cl.HistoryFacts(entries), Options{EncounterDate: model.MustDate("2024-03-02")})
}

func TestMerge_ChiefComplaintSkipsSymptomInFreeTextHistory(t *testing.T) {
	res := mergeText(t, []string{"Asthma review. Reports wheezing at night."}, model.Transcript{
		{Speaker: model.SpeakerDoctor, Utterance: "How have you been?"},
		{Speaker: model.SpeakerPatient, Utterance: "The wheezing has been a little worse."},
		{Speaker: model.SpeakerDoctor, Utterance: "Anything else?"},
		{Speaker: model.SpeakerPatient, Utterance: "My knee has been hurting since Sunday."},
	})
	assert.Equal(t, "knee pain", res.Fields[model.FieldChiefComplaint].Value())
}

func TestMerge_ContinuationWithClauseScopedDiscontinue(t *testing.T) {
	res := mergeText(t, []string{
		"Diagnosis_Label: mild asthma (stable); bronchitis\nPlan_Medications: Salbutamol 100 mcg as needed; Ibuprofen 400 mg three times a day",
	}, model.Transcript{
		{Speaker: model.SpeakerDoctor, Utterance: "Keep using the salbutamol inhaler, but stop taking the ibuprofen."},
		{Speaker: model.SpeakerDoctor, Utterance: "Your bronchitis has cleared up and your asthma is well controlled."},
	})
	fs := res.Fields
	assert.Equal(t, []string{"Salbutamol 100 mcg as needed"}, fs[model.FieldPlanMedications].Items)
	assert.Equal(t, model.ProvenanceCurrent, fs[model.FieldPlanMedications].Provenance)
	assert.Equal(t, []string{"mild asthma (stable)"}, fs[model.FieldDiagnosisLabel].Items)
	assert.Empty(t, res.Warnings)
}

func TestMerge_RecurrenceHintWarnsInsteadOfReactivating(t *testing.T) {
	res := mergeText(t, []string{"Diagnosed with asthma.", "The asthma has resolved."}, model.Transcript{
		{Speaker: model.SpeakerDoctor, Utterance: "We will talk about the asthma again at your next visit."},
	})
	assert.True(t, res.Fields[model.FieldDiagnosisLabel].IsEmpty())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, model.WarnAmbiguousReactivation, res.Warnings[0].Code)

	res = mergeText(t, []string{"Diagnosed with asthma.", "The asthma has resolved."}, model.Transcript{
		{Speaker: model.SpeakerDoctor, Utterance: "Your asthma has flared up again."},
	})
	assert.Equal(t, []string{"asthma"}, res.Fields[model.FieldDiagnosisLabel].Items)
	assert.Empty(t, res.Warnings)
}

func TestMerge_ResolvedDiagnosisDropped(t *testing.T) {
	facts := &classifier.Facts{Diagnoses: []classifier.Diagnosis{
		{Label: "eczema", Key: "eczema"},
		{Label: "mild asthma", Key: "asthma", Stage: "mild"},
	}}
	cands := &classifier.Candidates{Resolved: []string{"eczema"}}

	fs := Merge(cands, facts, Options{}).Fields
	assert.Equal(t, []string{"mild asthma"}, fs[model.FieldDiagnosisLabel].Items)
	assert.Equal(t, model.ProvenanceHistory, fs[model.FieldDiagnosisLabel].Provenance)
	assert.Equal(t, []string{"mild"}, fs[model.FieldDiagnosisStage].Items)
}

func TestMerge_AmbiguousReactivation(t *testing.T) {
	facts := &classifier.Facts{Resolved: []string{"eczema"}}
	cands := &classifier.Candidates{Diagnoses: []classifier.Diagnosis{{Label: "eczema", Key: "eczema"}}}

	res := Merge(cands, facts, Options{})
	assert.True(t, res.Fields[model.FieldDiagnosisLabel].IsEmpty())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, model.WarnAmbiguousReactivation, res.Warnings[0].Code)

	cands.Reactivated = []string{"eczema"}
	res = Merge(cands, facts, Options{})
	assert.Equal(t, []string{"eczema"}, res.Fields[model.FieldDiagnosisLabel].Items)
	assert.Empty(t, res.Warnings)
}

func TestMerge_ReactivationWithoutRestatement(t *testing.T) {
	facts := &classifier.Facts{Resolved: []string{"asthma"}}
	cands := &classifier.Candidates{Reactivated: []string{"asthma"}}

	v := Merge(cands, facts, Options{}).Fields[model.FieldDiagnosisLabel]
	assert.Equal(t, model.FieldValue{Items: []string{"asthma"}, Provenance: model.ProvenanceCurrent}, v)
}

func TestMerge_VisitDatePrecedence(t *testing.T) {
	cands := &classifier.Candidates{Fields: map[model.Field][]string{model.FieldVisitDate: {"2024-02-01"}}}
	ingested := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)

	v := Merge(cands, nil, Options{EncounterDate: model.MustDate("2024-02-03"), IngestedAt: ingested}).Fields[model.FieldVisitDate]
	assert.Equal(t, "2024-02-03", v.Value())

	v = Merge(cands, nil, Options{IngestedAt: ingested}).Fields[model.FieldVisitDate]
	assert.Equal(t, model.FieldValue{Items: []string{"2024-02-01"}, Provenance: model.ProvenanceCurrent}, v)
}

func TestMerge_DraftedReason(t *testing.T) {
	cands := &classifier.Candidates{
		Fields:  map[model.Field][]string{model.FieldPlanTherapy: {"heat"}},
		Drafted: map[model.Field]bool{model.FieldPlanTherapy: true},
	}
	v := Merge(cands, nil, Options{}).Fields[model.FieldPlanTherapy]
	assert.Equal(t, "drafted", v.Reason)
}
