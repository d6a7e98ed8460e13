// Package metrics holds the Prometheus collectors for the summarization pipeline.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Outcome labels for EncountersTotal.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation_error"
	OutcomeTimeout    = "timeout"
	OutcomeError      = "error"
)

// Metrics holds Prometheus metrics for encounter processing.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EncountersTotal    *prometheus.CounterVec
	TruncationsTotal   prometheus.Counter
	FieldWarningsTotal *prometheus.CounterVec
	DraftTimeoutsTotal prometheus.Counter
	ContextEntries     prometheus.Histogram
}

// New creates the collectors and registers them with reg.
//
// Metrics:
//   - clinsum_encounters_total{outcome} - encounters processed
//   - clinsum_context_truncations_total - context entries cut to fit the budget
//   - clinsum_field_warnings_total{field} - fields cleared or flagged during build
//   - clinsum_draft_timeouts_total - drafting calls that exceeded their deadline
//   - clinsum_context_entries - entries admitted per context window
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EncountersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinsum_encounters_total",
				Help: "Total number of encounters processed",
			},
			[]string{"outcome"},
		),
		TruncationsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "clinsum_context_truncations_total",
				Help: "Total number of context entries truncated to fit the character budget",
			},
		),
		FieldWarningsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinsum_field_warnings_total",
				Help: "Total number of field warnings raised while merging and building summaries",
			},
			[]string{"field"},
		),
		DraftTimeoutsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "clinsum_draft_timeouts_total",
				Help: "Total number of drafting calls that exceeded their deadline",
			},
		),
		ContextEntries: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clinsum_context_entries",
				Help:    "Number of history entries admitted into a context window",
				Buckets: prometheus.LinearBuckets(0, 2, 11),
			},
		),
	}
}

// RecordEncounter counts one finished encounter.
func (m *Metrics) RecordEncounter(outcome string) {
	if m == nil {
		return
	}
	m.EncountersTotal.WithLabelValues(outcome).Inc()
}

// RecordWindow records the size of a context window and whether it was truncated.
func (m *Metrics) RecordWindow(entries int, truncated bool) {
	if m == nil {
		return
	}
	m.ContextEntries.Observe(float64(entries))
	if truncated {
		m.TruncationsTotal.Inc()
	}
}

// RecordFieldWarning counts a warning against a field. Warnings without a
// field are counted under "none".
func (m *Metrics) RecordFieldWarning(field string) {
	if m == nil {
		return
	}
	if field == "" {
		field = "none"
	}
	m.FieldWarningsTotal.WithLabelValues(field).Inc()
}

// RecordDraftTimeout counts a drafting deadline miss.
func (m *Metrics) RecordDraftTimeout() {
	if m == nil {
		return
	}
	m.DraftTimeoutsTotal.Inc()
}

// WriteText gathers g and writes every family in the Prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
