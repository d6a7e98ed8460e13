package store

import (
	"context"
	"math"
	"sort"

	"github.com/rcliao/clinical-summary/internal/errors"
	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/tokens"
)

// SearchParams holds parameters for a keyword search.
type SearchParams struct {
	PatientID  string // empty searches every patient
	Query      string
	Categories []model.Category
	Limit      int
}

// SearchResult wraps an entry with its relevance to the query.
type SearchResult struct {
	model.RecordEntry
	Score float64 `json:"score"`
}

// Search finds entries sharing at least one stemmed keyword with the query,
// ranked by Jaccard similarity, then date and seq, newest first. Superseded
// entries are skipped.
func Search(ctx context.Context, s Store, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	query := tokens.NewSet(p.Query)
	if len(query) == 0 {
		return nil, errors.NewValidation("query", "has no searchable terms")
	}

	patients := []string{p.PatientID}
	if p.PatientID == "" {
		var err error
		if patients, err = s.Patients(ctx); err != nil {
			return nil, err
		}
	}

	var results []SearchResult
	for _, id := range patients {
		entries, err := Collect(s.Query(ctx, QueryParams{PatientID: id, Categories: p.Categories}))
		if err != nil {
			return nil, err
		}
		superseded := make(map[string]bool)
		for _, e := range entries {
			if e.Supersedes != "" {
				superseded[e.Supersedes] = true
			}
		}
		for _, e := range entries {
			set := tokens.NewSet(e.Text)
			if superseded[e.ID] || !set.Intersects(query) {
				continue
			}
			score := math.Round(tokens.Jaccard(set, query)*1000) / 1000
			results = append(results, SearchResult{RecordEntry: e, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if c := a.Date.Compare(b.Date); c != 0 {
			return c > 0
		}
		return a.Seq > b.Seq
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
