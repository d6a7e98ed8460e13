// Package pipeline runs one encounter end to end: retrieval and
// classification in parallel, drafting, merge, build and the optional
// append of the result to the record store.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/clinical-summary/internal/classifier"
	"github.com/rcliao/clinical-summary/internal/drafting"
	"github.com/rcliao/clinical-summary/internal/errors"
	"github.com/rcliao/clinical-summary/internal/logging"
	"github.com/rcliao/clinical-summary/internal/merge"
	"github.com/rcliao/clinical-summary/internal/metrics"
	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/retriever"
	"github.com/rcliao/clinical-summary/internal/store"
	"github.com/rcliao/clinical-summary/internal/summary"
)

// DefaultDraftTimeout bounds a drafting call when Options leaves it unset.
const DefaultDraftTimeout = 30 * time.Second

// Options tune a Pipeline.
type Options struct {
	DraftTimeout time.Duration
	Workers      int
	// Now supplies ingestion timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline wires the components for processing encounters. It is safe for
// concurrent use.
type Pipeline struct {
	store      store.Store
	retriever  *retriever.Retriever
	classifier *classifier.Classifier
	drafter    drafting.Drafter
	builder    *summary.Builder
	log        *zap.Logger
	metrics    *metrics.Metrics
	opts       Options
}

// New assembles a pipeline. drafter, log and m may be nil.
func New(s store.Store, r *retriever.Retriever, cl *classifier.Classifier, drafter drafting.Drafter, log *zap.Logger, m *metrics.Metrics, opts Options) *Pipeline {
	if drafter == nil {
		drafter = drafting.Nop{}
	}
	if opts.DraftTimeout <= 0 {
		opts.DraftTimeout = DefaultDraftTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log = logging.OrNop(log).Named("pipeline")
	return &Pipeline{
		store:      s,
		retriever:  r,
		classifier: cl,
		drafter:    drafter,
		builder:    summary.NewBuilder(log, m),
		log:        log,
		metrics:    m,
		opts:       opts,
	}
}

// Encounter is one transcript to summarize.
type Encounter struct {
	PatientID  string           `json:"patient_id"`
	Date       model.Date       `json:"date"`
	Transcript model.Transcript `json:"transcript"`
	// IngestedAt defaults to the pipeline clock.
	IngestedAt time.Time `json:"-"`
	// Persist appends the decomposed summary to the store on success.
	Persist bool `json:"persist,omitempty"`
}

// Result carries the summary and the intermediate artifacts that produced it.
type Result struct {
	Summary    *model.StructuredSummary `json:"summary"`
	Window     *retriever.Window        `json:"window"`
	Candidates *classifier.Candidates   `json:"candidates"`
	Drafter    string                   `json:"drafter"`
	Appended   []*model.RecordEntry     `json:"appended,omitempty"`
}

// Process summarizes one encounter. A drafting call that exceeds the draft
// timeout aborts the encounter with a TIMEOUT error and leaves the store
// untouched. Other drafting failures are logged and the rule-based result
// is used.
func (p *Pipeline) Process(ctx context.Context, enc Encounter) (*Result, error) {
	res, err := p.process(ctx, enc)
	p.metrics.RecordEncounter(outcomeOf(err))
	if err != nil {
		p.log.Warn("encounter failed", zap.String("patient_id", enc.PatientID), zap.Error(err))
		return nil, err
	}
	p.log.Info("encounter summarized",
		zap.String("patient_id", enc.PatientID),
		zap.String("encounter_id", res.Summary.EncounterID),
		zap.Int("context_entries", len(res.Window.Entries)),
		zap.Int("warnings", len(res.Summary.Warnings)),
		zap.Int("appended", len(res.Appended)),
	)
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, enc Encounter) (*Result, error) {
	if err := summary.Validate(enc.PatientID, enc.Transcript); err != nil {
		return nil, err
	}
	if enc.IngestedAt.IsZero() {
		enc.IngestedAt = p.opts.Now()
	}
	ref := enc.Date
	if ref.IsZero() {
		ref = model.DateOf(enc.IngestedAt)
	}

	var (
		window *retriever.Window
		cands  *classifier.Candidates
		draft  *drafting.Draft
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cands = p.classifier.Classify(enc.Transcript)
		return nil
	})
	g.Go(func() error {
		w, err := p.retriever.Retrieve(gctx, retriever.Request{
			PatientID:     enc.PatientID,
			Keywords:      retriever.Keywords(enc.Transcript),
			ReferenceDate: ref,
		})
		if err != nil {
			return fmt.Errorf("retrieve: %w", err)
		}
		window = w
		draft, err = p.draft(gctx, enc, w)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if draft != nil {
		p.classifier.ApplyDraft(cands, draft.Fields, enc.Transcript)
	}
	facts := p.classifier.HistoryFacts(window.Records())
	merged := merge.Merge(cands, facts, merge.Options{EncounterDate: enc.Date, IngestedAt: enc.IngestedAt})
	if window.Truncated() {
		merged.Warnings = append(merged.Warnings, model.Warning{
			Code:    model.WarnBudgetTruncation,
			Message: fmt.Sprintf("context window cut to %d characters", window.MaxChars),
		})
	}

	sum, err := p.builder.Build(summary.Input{
		PatientID:     enc.PatientID,
		Transcript:    enc.Transcript,
		EncounterDate: enc.Date,
		Merged:        merged,
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Summary: sum, Window: window, Candidates: cands, Drafter: p.drafter.Name()}

	if enc.Persist {
		appended, err := p.persist(ctx, sum)
		if err != nil {
			return nil, err
		}
		res.Appended = appended
	}
	return res, nil
}

// draft calls the drafter under the draft timeout.
func (p *Pipeline) draft(ctx context.Context, enc Encounter, w *retriever.Window) (*drafting.Draft, error) {
	if _, ok := p.drafter.(drafting.Nop); ok {
		return nil, nil
	}
	dctx, cancel := context.WithTimeout(ctx, p.opts.DraftTimeout)
	defer cancel()

	start := time.Now()
	d, err := p.drafter.Draft(dctx, drafting.Request{
		PatientID:  enc.PatientID,
		Transcript: enc.Transcript,
		Context:    w.Format(),
	})
	switch {
	case err == nil && d == nil:
		return nil, nil
	case err == nil:
		p.log.Debug("draft received",
			zap.String("drafter", p.drafter.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("fields", len(d.Fields)),
		)
		return d, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(dctx.Err(), context.DeadlineExceeded):
		p.metrics.RecordDraftTimeout()
		return nil, errors.NewTimeout("draft", p.opts.DraftTimeout, err)
	default:
		p.log.Warn("draft failed, continuing without it", zap.String("drafter", p.drafter.Name()), zap.Error(err))
		return nil, nil
	}
}

// persist appends the decomposed summary as one batch, so a failure leaves
// the timeline as it was. It runs only after the summary was built.
func (p *Pipeline) persist(ctx context.Context, sum *model.StructuredSummary) ([]*model.RecordEntry, error) {
	params, err := summary.Decompose(sum)
	if err != nil {
		return nil, err
	}
	out, err := p.store.AppendBatch(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("append summary: %w", err)
	}
	return out, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, errors.ErrValidation):
		return metrics.OutcomeValidation
	case errors.Is(err, errors.ErrTimeout):
		return metrics.OutcomeTimeout
	}
	return metrics.OutcomeError
}
