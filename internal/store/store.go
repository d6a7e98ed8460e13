// Package store provides the append-only patient timeline and its backends.
package store

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/rcliao/clinical-summary/internal/errors"
	"github.com/rcliao/clinical-summary/internal/model"
)

// AppendParams holds the raw fields of a new entry.
type AppendParams struct {
	PatientID  string
	Text       string
	Category   string
	Date       string
	Supersedes string // id of the entry this one corrects, optional
}

// QueryParams filters a patient's timeline. Zero values mean "no filter".
type QueryParams struct {
	PatientID  string
	Categories []model.Category
	From       model.Date // inclusive
	To         model.Date // inclusive
	Limit      int
}

// Store defines the record store interface.
type Store interface {
	// Append validates and stores a new entry, assigning its id and seq.
	Append(ctx context.Context, p AppendParams) (*model.RecordEntry, error)

	// AppendBatch stores every entry or none of them. Entries are validated
	// up front and assigned ascending seqs in slice order.
	AppendBatch(ctx context.Context, ps []AppendParams) ([]*model.RecordEntry, error)

	// Query yields a patient's entries newest first (date desc, then seq desc).
	// An unknown patient yields nothing.
	Query(ctx context.Context, p QueryParams) iter.Seq2[model.RecordEntry, error]

	// Latest returns the most recent entry of a category that no other entry
	// supersedes. Returns a NOT_FOUND error when there is none.
	Latest(ctx context.Context, patientID string, category model.Category) (*model.RecordEntry, error)

	// Patients lists known patient ids in ascending order.
	Patients(ctx context.Context) ([]string, error)

	// Stats returns per-patient and per-category counts.
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the store.
	Close() error
}

// validated is an AppendParams that passed boundary checks.
type validated struct {
	patientID  string
	text       string
	category   model.Category
	date       model.Date
	supersedes string
}

func validate(p AppendParams) (validated, error) {
	var v validated
	v.patientID = strings.TrimSpace(p.PatientID)
	if v.patientID == "" {
		return v, errors.NewValidation("patient_id", "is required")
	}
	if strings.TrimSpace(p.Text) == "" {
		return v, errors.NewValidation("text", "is required")
	}
	v.text = p.Text
	cat, err := model.ParseCategory(p.Category)
	if err != nil {
		return v, err
	}
	v.category = cat
	d, err := model.ParseDate(p.Date)
	if err != nil {
		return v, err
	}
	v.date = d
	v.supersedes = strings.TrimSpace(p.Supersedes)
	return v, nil
}

// validateAll validates a batch. Errors name the offending index when the
// batch holds more than one entry.
func validateAll(ps []AppendParams) ([]validated, error) {
	out := make([]validated, len(ps))
	for i, p := range ps {
		v, err := validate(p)
		if err != nil {
			if len(ps) > 1 {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// matches reports whether e passes the category and date filters of p.
func (p QueryParams) matches(e model.RecordEntry) bool {
	if len(p.Categories) > 0 && !slices.Contains(p.Categories, e.Category) {
		return false
	}
	if !p.From.IsZero() && e.Date.Compare(p.From) < 0 {
		return false
	}
	if !p.To.IsZero() && e.Date.Compare(p.To) > 0 {
		return false
	}
	return true
}

// patientLocks serializes writers per patient. Different patients never
// contend on the same mutex.
type patientLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *patientLocks) lock(patientID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[patientID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[patientID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// lockAll takes the writer locks of every patient in vs in ascending id
// order and returns a function releasing them.
func (l *patientLocks) lockAll(vs []validated) func() {
	ids := make([]string, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, v.patientID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	unlocks := make([]func(), 0, len(ids))
	for _, id := range ids {
		unlocks = append(unlocks, l.lock(id))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Collect drains a query into a slice, stopping at the first error.
func Collect(seq iter.Seq2[model.RecordEntry, error]) ([]model.RecordEntry, error) {
	var out []model.RecordEntry
	for e, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}
