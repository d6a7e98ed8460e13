package retriever

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/clinical-summary/internal/logging"
	"github.com/rcliao/clinical-summary/internal/metrics"
	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/store"
	"github.com/rcliao/clinical-summary/internal/tokens"
)

func appendAll(t *testing.T, s store.Store, ps ...store.AppendParams) []*model.RecordEntry {
	t.Helper()
	var out []*model.RecordEntry
	for _, p := range ps {
		e, err := s.Append(context.Background(), p)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func newRetriever(t *testing.T, s store.Store, cfg Config) *Retriever {
	t.Helper()
	r, err := New(s, cfg, nil, nil)
	require.NoError(t, err)
	return r
}

func TestRetrieve_EmptyHistory(t *testing.T) {
	r := newRetriever(t, store.NewMemoryStore(), DefaultConfig())
	w, err := r.Retrieve(context.Background(), Request{PatientID: "nobody", ReferenceDate: model.MustDate("2024-01-01")})
	require.NoError(t, err)
	assert.Empty(t, w.Entries)
	assert.Equal(t, 0, w.UsedChars)
}

func TestRetrieve_ZeroBudget(t *testing.T) {
	s := store.NewMemoryStore()
	appendAll(t, s, store.AppendParams{PatientID: "p", Text: "asthma", Category: "summary_notes", Date: "2024-01-01"})

	for _, cfg := range []Config{
		{MaxEntries: 0, MaxChars: 100, HalfLifeDays: 30},
		{MaxEntries: 5, MaxChars: 0, HalfLifeDays: 30},
	} {
		w, err := newRetriever(t, s, cfg).Retrieve(context.Background(), Request{PatientID: "p"})
		require.NoError(t, err)
		assert.Empty(t, w.Entries)
	}
}

func TestRetrieve_RespectsBounds(t *testing.T) {
	s := store.NewMemoryStore()
	for i := 0; i < 30; i++ {
		appendAll(t, s, store.AppendParams{
			PatientID: "p",
			Text:      strings.Repeat(fmt.Sprintf("Note %d about asthma control. ", i), 1+i%4),
			Category:  string(model.Categories[i%len(model.Categories)]),
			Date:      fmt.Sprintf("2023-%02d-%02d", 1+i%12, 1+i%28),
		})
	}

	for _, k := range []int{1, 3, 8, 50} {
		for _, c := range []int{10, 45, 200, 5000} {
			cfg := DefaultConfig()
			cfg.MaxEntries, cfg.MaxChars = k, c
			w, err := newRetriever(t, s, cfg).Retrieve(context.Background(), Request{
				PatientID:     "p",
				Keywords:      tokens.NewSet("asthma inhaler"),
				ReferenceDate: model.MustDate("2024-01-01"),
			})
			require.NoError(t, err)

			assert.LessOrEqual(t, len(w.Entries), k, "K=%d C=%d", k, c)
			total := 0
			truncated := 0
			for _, e := range w.Entries {
				total += utf8.RuneCountInString(e.Text)
				if e.Truncated {
					truncated++
				}
			}
			assert.LessOrEqual(t, total, c, "K=%d C=%d", k, c)
			assert.Equal(t, total, w.UsedChars)
			assert.LessOrEqual(t, truncated, 1)
			if truncated == 1 {
				assert.True(t, w.Entries[len(w.Entries)-1].Truncated, "only the last entry may be truncated")
			}
		}
	}
}

func TestRetrieve_TieBreaks(t *testing.T) {
	s := store.NewMemoryStore()
	es := appendAll(t, s,
		store.AppendParams{PatientID: "p", Text: "same", Category: "other", Date: "2024-01-01"},
		store.AppendParams{PatientID: "p", Text: "same", Category: "other", Date: "2024-02-01"},
		store.AppendParams{PatientID: "p", Text: "same", Category: "other", Date: "2024-01-01"},
	)

	// no recency weight: every score is equal
	cfg := Config{MaxEntries: 10, MaxChars: 100, HalfLifeDays: 30}
	w, err := newRetriever(t, s, cfg).Retrieve(context.Background(), Request{PatientID: "p"})
	require.NoError(t, err)
	require.Len(t, w.Entries, 3)

	// date desc, then insertion order
	assert.Equal(t, es[1].ID, w.Entries[0].ID)
	assert.Equal(t, es[0].ID, w.Entries[1].ID)
	assert.Equal(t, es[2].ID, w.Entries[2].ID)
}

func TestRetrieve_ScoringPrefersRelevantRecentPreferred(t *testing.T) {
	s := store.NewMemoryStore()
	es := appendAll(t, s,
		store.AppendParams{PatientID: "p", Text: "Dental cleaning done.", Category: "other", Date: "2020-01-01"},
		store.AppendParams{PatientID: "p", Text: "Knee pain after running.", Category: "other", Date: "2020-01-01"},
		store.AppendParams{PatientID: "p", Text: "Dental cleaning done.", Category: "other", Date: "2023-12-01"},
		store.AppendParams{PatientID: "p", Text: "Dental cleaning done.", Category: "summary_notes", Date: "2020-01-01"},
	)

	cfg := DefaultConfig()
	r := newRetriever(t, s, cfg)
	w, err := r.Retrieve(context.Background(), Request{
		PatientID:     "p",
		Keywords:      tokens.NewSet("my knee hurts when running"),
		ReferenceDate: model.MustDate("2024-01-01"),
	})
	require.NoError(t, err)
	require.Len(t, w.Entries, 4)

	scores := map[string]float64{}
	for _, e := range w.Entries {
		scores[e.ID] = e.Score
	}
	assert.Greater(t, scores[es[1].ID], scores[es[0].ID], "keyword overlap")
	assert.Greater(t, scores[es[2].ID], scores[es[0].ID], "recency")
	assert.Greater(t, scores[es[3].ID], scores[es[0].ID], "preferred category")
}

func TestRetrieve_FutureDatedCountsAsToday(t *testing.T) {
	s := store.NewMemoryStore()
	appendAll(t, s, store.AppendParams{PatientID: "p", Text: "x", Category: "other", Date: "2030-01-01"})
	cfg := Config{MaxEntries: 1, MaxChars: 10, RecencyScale: 1, HalfLifeDays: 30}
	w, err := newRetriever(t, s, cfg).Retrieve(context.Background(), Request{PatientID: "p", ReferenceDate: model.MustDate("2024-01-01")})
	require.NoError(t, err)
	require.Len(t, w.Entries, 1)
	assert.Equal(t, 1.0, w.Entries[0].Score)
}

func TestRetrieve_TruncationLoggedAndCounted(t *testing.T) {
	s := store.NewMemoryStore()
	appendAll(t, s,
		store.AppendParams{PatientID: "p", Text: "Asthma stable.", Category: "summary_notes", Date: "2024-01-02"},
		store.AppendParams{PatientID: "p", Text: "Salbutamol as needed. Review inhaler technique next visit.", Category: "prescriptions", Date: "2024-01-01"},
	)

	log, logs := logging.NewObserved()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := Config{MaxEntries: 5, MaxChars: 40, RecencyScale: 1, HalfLifeDays: 30}
	r, err := New(s, cfg, log, m)
	require.NoError(t, err)

	w, err := r.Retrieve(context.Background(), Request{PatientID: "p", ReferenceDate: model.MustDate("2024-01-02")})
	require.NoError(t, err)
	require.Len(t, w.Entries, 2)
	assert.False(t, w.Entries[0].Truncated)
	assert.True(t, w.Entries[1].Truncated)
	assert.Equal(t, "Salbutamol as needed.", w.Entries[1].Text)
	assert.True(t, w.Truncated())

	assert.Equal(t, 1, logs.FilterMessage("context entry truncated").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TruncationsTotal))
}

func TestRetrieve_SkipsSuperseded(t *testing.T) {
	s := store.NewMemoryStore()
	es := appendAll(t, s, store.AppendParams{PatientID: "p", Text: "Salbutamol 500mg", Category: "prescriptions", Date: "2024-01-01"})
	appendAll(t, s, store.AppendParams{PatientID: "p", Text: "Salbutamol 100mcg", Category: "prescriptions", Date: "2024-01-02", Supersedes: es[0].ID})

	w, err := newRetriever(t, s, DefaultConfig()).Retrieve(context.Background(), Request{PatientID: "p"})
	require.NoError(t, err)
	require.Len(t, w.Entries, 1)
	assert.Equal(t, "Salbutamol 100mcg", w.Entries[0].Text)
}

func TestRetrieve_Condition(t *testing.T) {
	s := store.NewMemoryStore()
	appendAll(t, s,
		store.AppendParams{PatientID: "p", Text: "Mild asthma, stable.", Category: "summary_notes", Date: "2024-01-01"},
		store.AppendParams{PatientID: "p", Text: "Sprained left ankle.", Category: "summary_notes", Date: "2024-02-01"},
		store.AppendParams{PatientID: "p", Text: "Salbutamol inhaler for asthma.", Category: "prescriptions", Date: "2024-01-01"},
	)

	w, err := newRetriever(t, s, DefaultConfig()).Retrieve(context.Background(), Request{
		PatientID:     "p",
		ReferenceDate: model.MustDate("2024-03-01"),
		Condition:     "Asthma",
	})
	require.NoError(t, err)
	require.Len(t, w.Entries, 2)
	for _, e := range w.Entries {
		assert.Contains(t, strings.ToLower(e.Text), "asthma")
	}
	assert.Equal(t, "Asthma", w.Condition)
	assert.Contains(t, w.Format(), "Condition: Asthma\n")

	w, err = newRetriever(t, s, DefaultConfig()).Retrieve(context.Background(), Request{PatientID: "p", Condition: "diabetes"})
	require.NoError(t, err)
	assert.Empty(t, w.Entries)
	assert.NotContains(t, w.Format(), "ankle")
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.PreferredCategories = []string{"billing"}
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxChars = -1
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.HalfLifeDays = 0
	assert.Error(t, bad.Validate())
}

func TestWindow_Format(t *testing.T) {
	w := &Window{
		PatientID: "tomas",
		Entries: []Entry{
			{RecordEntry: model.RecordEntry{Text: "Mild asthma (stable).", Category: model.CategorySummaryNotes, Date: model.MustDate("2023-05-10")}},
			{RecordEntry: model.RecordEntry{Text: "Salbutamol inhaler.", Category: model.CategoryPrescriptions, Date: model.MustDate("2023-05-10")}},
			{RecordEntry: model.RecordEntry{Text: "Asthma review.", Category: model.CategorySummaryNotes, Date: model.MustDate("2022-01-10")}, Truncated: true},
		},
	}
	out := w.Format()
	assert.True(t, strings.HasPrefix(out, "=== MEDICAL RECORDS FOR PATIENT: TOMAS ===\n"))
	assert.Equal(t, 1, strings.Count(out, "--- SUMMARY NOTES ---"))
	assert.Less(t, strings.Index(out, "SUMMARY NOTES"), strings.Index(out, "PRESCRIPTIONS"))
	assert.Contains(t, out, "Details: Asthma review. [truncated]")

	empty := (&Window{PatientID: "x"}).Format()
	assert.Contains(t, empty, "No prior records.")
}
