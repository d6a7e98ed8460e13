// Package retriever ranks a patient's history and packs the most relevant
// entries into a bounded context window.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/rcliao/clinical-summary/internal/chunker"
	"github.com/rcliao/clinical-summary/internal/errors"
	"github.com/rcliao/clinical-summary/internal/logging"
	"github.com/rcliao/clinical-summary/internal/metrics"
	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/store"
	"github.com/rcliao/clinical-summary/internal/tokens"
)

// Config holds the budget and scoring weights.
type Config struct {
	MaxEntries          int      `koanf:"max_entries"`
	MaxChars            int      `koanf:"max_chars"`
	RecencyScale        float64  `koanf:"recency_scale"`
	HalfLifeDays        float64  `koanf:"half_life_days"`
	CategoryMatchWeight float64  `koanf:"category_match_weight"`
	PreferredCategories []string `koanf:"preferred_categories"`
	CandidateLimit      int      `koanf:"candidate_limit"` // 0 scans the whole timeline
}

// DefaultConfig returns the default budget and weights.
func DefaultConfig() Config {
	return Config{
		MaxEntries:          8,
		MaxChars:            4000,
		RecencyScale:        1.0,
		HalfLifeDays:        180,
		CategoryMatchWeight: 0.5,
		PreferredCategories: []string{
			string(model.CategorySummaryNotes),
			string(model.CategoryPrescriptions),
			string(model.CategoryAppointments),
		},
	}
}

// Validate checks the config for errors.
func (c Config) Validate() error {
	if c.MaxEntries < 0 {
		return errors.NewValidation("max_entries", "must be >= 0")
	}
	if c.MaxChars < 0 {
		return errors.NewValidation("max_chars", "must be >= 0")
	}
	if c.HalfLifeDays <= 0 {
		return errors.NewValidation("half_life_days", "must be > 0")
	}
	if c.RecencyScale < 0 || c.CategoryMatchWeight < 0 {
		return errors.NewValidation("weights", "must be >= 0")
	}
	for _, s := range c.PreferredCategories {
		if _, err := model.ParseCategory(s); err != nil {
			return err
		}
	}
	return nil
}

// Request describes one retrieval.
type Request struct {
	PatientID string
	Keywords  tokens.Set
	// ReferenceDate anchors recency; normally the encounter date.
	ReferenceDate model.Date
	// Condition narrows the window to entries sharing a keyword with it.
	Condition string
}

// Retriever selects context windows from a store.
type Retriever struct {
	store     store.Store
	cfg       Config
	preferred map[model.Category]bool
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a Retriever. log and m may be nil.
func New(s store.Store, cfg Config, log *zap.Logger, m *metrics.Metrics) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("retriever config: %w", err)
	}
	preferred := make(map[model.Category]bool, len(cfg.PreferredCategories))
	for _, s := range cfg.PreferredCategories {
		c, _ := model.ParseCategory(s)
		preferred[c] = true
	}
	return &Retriever{
		store:     s,
		cfg:       cfg,
		preferred: preferred,
		log:       logging.OrNop(log).Named("retriever"),
		metrics:   m,
	}, nil
}

type candidate struct {
	entry model.RecordEntry
	score float64
}

// Retrieve ranks the patient's history against the request keywords and
// greedily admits entries until MaxEntries is reached or the next entry would
// exceed MaxChars. The first entry that does not fit is cut at a sentence
// boundary and marks the end of the window.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Window, error) {
	w := &Window{
		PatientID:     req.PatientID,
		ReferenceDate: req.ReferenceDate,
		MaxEntries:    r.cfg.MaxEntries,
		MaxChars:      r.cfg.MaxChars,
		Condition:     req.Condition,
		Entries:       []Entry{},
	}
	if r.cfg.MaxEntries == 0 || r.cfg.MaxChars == 0 {
		return w, nil
	}

	history, err := store.Collect(r.store.Query(ctx, store.QueryParams{
		PatientID: req.PatientID,
		Limit:     r.cfg.CandidateLimit,
	}))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	if len(history) == 0 {
		r.metrics.RecordWindow(0, false)
		return w, nil
	}

	superseded := make(map[string]bool)
	for _, e := range history {
		if e.Supersedes != "" {
			superseded[e.Supersedes] = true
		}
	}

	keywords := req.Keywords
	var condition tokens.Set
	if req.Condition != "" {
		condition = tokens.NewSet(req.Condition)
		keywords = tokens.Union(keywords, condition)
	}

	candidates := make([]candidate, 0, len(history))
	for _, e := range history {
		if superseded[e.ID] {
			continue
		}
		set := tokens.NewSet(e.Text)
		if len(condition) > 0 && !set.Intersects(condition) {
			continue
		}
		candidates = append(candidates, candidate{entry: e, score: r.score(e, set, req.ReferenceDate, keywords)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if c := a.entry.Date.Compare(b.entry.Date); c != 0 {
			return c > 0
		}
		return a.entry.Seq < b.entry.Seq
	})

	// Greedy packing into budget
	for _, c := range candidates {
		if len(w.Entries) >= r.cfg.MaxEntries {
			break
		}
		n := utf8.RuneCountInString(c.entry.Text)
		if w.UsedChars+n <= r.cfg.MaxChars {
			w.Entries = append(w.Entries, Entry{RecordEntry: c.entry, Score: round(c.score)})
			w.UsedChars += n
			continue
		}

		remaining := r.cfg.MaxChars - w.UsedChars
		text, _ := chunker.Truncate(c.entry.Text, remaining)
		if text != "" {
			e := c.entry
			e.Text = text
			w.Entries = append(w.Entries, Entry{RecordEntry: e, Score: round(c.score), Truncated: true, OriginalChars: n})
			w.UsedChars += utf8.RuneCountInString(text)
			r.log.Warn("context entry truncated",
				zap.String("patient_id", req.PatientID),
				zap.String("entry_id", c.entry.ID),
				zap.Int("original_chars", n),
				zap.Int("kept_chars", utf8.RuneCountInString(text)),
			)
		}
		break // budget full
	}

	r.metrics.RecordWindow(len(w.Entries), w.Truncated())
	r.log.Debug("context window assembled",
		zap.String("patient_id", req.PatientID),
		zap.Int("candidates", len(candidates)),
		zap.Int("entries", len(w.Entries)),
		zap.Int("used_chars", w.UsedChars),
	)
	return w, nil
}

// score = recency + category match + keyword overlap.
func (r *Retriever) score(e model.RecordEntry, entryTokens tokens.Set, ref model.Date, keywords tokens.Set) float64 {
	age := 0.0
	if !ref.IsZero() {
		age = math.Max(0, ref.DaysSince(e.Date))
	}
	recency := r.cfg.RecencyScale * math.Exp(-age/r.cfg.HalfLifeDays)

	match := 0.0
	if r.preferred[e.Category] {
		match = r.cfg.CategoryMatchWeight
	}

	return recency + match + tokens.Jaccard(entryTokens, keywords)
}

func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// Keywords builds the keyword set of a transcript from every utterance.
func Keywords(t model.Transcript) tokens.Set {
	texts := make([]string, len(t))
	for i, turn := range t {
		texts[i] = turn.Utterance
	}
	return tokens.NewSet(texts...)
}
