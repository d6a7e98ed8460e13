package store

import (
	"context"
	"iter"
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/clinical-summary/internal/errors"
	"github.com/rcliao/clinical-summary/internal/model"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	writers patientLocks

	mu        sync.RWMutex
	timelines map[string][]model.RecordEntry // ordered by (date, seq) ascending
	ids       map[string]string              // entry id -> patient id
	seq       int64

	entropyMu sync.Mutex
	entropy   *rand.Rand
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		timelines: make(map[string][]model.RecordEntry),
		ids:       make(map[string]string),
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *MemoryStore) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *MemoryStore) Append(ctx context.Context, p AppendParams) (*model.RecordEntry, error) {
	es, err := s.AppendBatch(ctx, []AppendParams{p})
	if err != nil {
		return nil, err
	}
	return es[0], nil
}

func (s *MemoryStore) AppendBatch(ctx context.Context, ps []AppendParams) ([]*model.RecordEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vs, err := validateAll(ps)
	if err != nil {
		return nil, err
	}

	unlock := s.writers.lockAll(vs)
	defer unlock()

	ids := make([]string, len(vs))
	for i := range vs {
		ids[i] = s.newID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// every check runs before the first write
	owners := make(map[string]string, len(vs))
	for i, v := range vs {
		if v.supersedes != "" {
			owner, ok := s.ids[v.supersedes]
			if !ok {
				owner = owners[v.supersedes]
			}
			if owner != v.patientID {
				return nil, errors.NewValidation("supersedes", "unknown entry "+v.supersedes+" for patient "+v.patientID)
			}
		}
		owners[ids[i]] = v.patientID
	}

	out := make([]*model.RecordEntry, len(vs))
	for i, v := range vs {
		s.seq++
		e := model.RecordEntry{
			ID:         ids[i],
			PatientID:  v.patientID,
			Text:       v.text,
			Category:   v.category,
			Date:       v.date,
			Seq:        s.seq,
			Supersedes: v.supersedes,
		}

		tl := s.timelines[v.patientID]
		// seq is the largest so far; only the date decides the position
		at := sort.Search(len(tl), func(j int) bool { return tl[j].Date.Compare(e.Date) > 0 })
		s.timelines[v.patientID] = slices.Insert(tl, at, e)
		s.ids[e.ID] = v.patientID
		out[i] = &e
	}
	return out, nil
}

func (s *MemoryStore) snapshot(patientID string) []model.RecordEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.timelines[patientID])
}

func (s *MemoryStore) Query(ctx context.Context, p QueryParams) iter.Seq2[model.RecordEntry, error] {
	return func(yield func(model.RecordEntry, error) bool) {
		tl := s.snapshot(p.PatientID)
		n := 0
		for i := len(tl) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				yield(model.RecordEntry{}, err)
				return
			}
			if !p.matches(tl[i]) {
				continue
			}
			if !yield(tl[i], nil) {
				return
			}
			n++
			if p.Limit > 0 && n >= p.Limit {
				return
			}
		}
	}
}

func (s *MemoryStore) Latest(ctx context.Context, patientID string, category model.Category) (*model.RecordEntry, error) {
	tl := s.snapshot(patientID)
	superseded := make(map[string]bool)
	for _, e := range tl {
		if e.Supersedes != "" {
			superseded[e.Supersedes] = true
		}
	}
	for i := len(tl) - 1; i >= 0; i-- {
		e := tl[i]
		if e.Category == category && !superseded[e.ID] {
			return &e, nil
		}
	}
	return nil, errors.NewNotFound(patientID + "/" + string(category))
}

func (s *MemoryStore) Patients(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.timelines))
	for id := range s.timelines {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &Stats{}
	for id, tl := range s.timelines {
		ps := PatientStats{PatientID: id, Count: len(tl)}
		for _, e := range tl {
			ps.add(e)
		}
		st.TotalEntries += len(tl)
		st.Patients = append(st.Patients, ps)
	}
	st.sort()
	return st, nil
}

func (s *MemoryStore) Close() error { return nil }
