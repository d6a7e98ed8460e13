package store

import (
	"context"
	"os"
	"slices"
	"strings"

	"github.com/rcliao/clinical-summary/internal/model"
)

// Stats holds store statistics.
type Stats struct {
	DBPath       string         `json:"db_path,omitempty"`
	DBSizeBytes  int64          `json:"db_size_bytes,omitempty"`
	TotalEntries int            `json:"total_entries"`
	Patients     []PatientStats `json:"patients"`
}

// PatientStats holds per-patient counts.
type PatientStats struct {
	PatientID  string          `json:"patient_id"`
	Count      int             `json:"count"`
	FirstDate  model.Date      `json:"first_date"`
	LastDate   model.Date      `json:"last_date"`
	Categories []CategoryCount `json:"categories"`
}

// CategoryCount is the number of entries in one category.
type CategoryCount struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
}

func (ps *PatientStats) add(e model.RecordEntry) {
	if ps.FirstDate.IsZero() || e.Date.Compare(ps.FirstDate) < 0 {
		ps.FirstDate = e.Date
	}
	if e.Date.Compare(ps.LastDate) > 0 {
		ps.LastDate = e.Date
	}
	for i := range ps.Categories {
		if ps.Categories[i].Category == e.Category {
			ps.Categories[i].Count++
			return
		}
	}
	ps.Categories = append(ps.Categories, CategoryCount{Category: e.Category, Count: 1})
}

// sort orders patients by id and categories canonically.
func (st *Stats) sort() {
	slices.SortFunc(st.Patients, func(a, b PatientStats) int { return strings.Compare(a.PatientID, b.PatientID) })
	for _, ps := range st.Patients {
		slices.SortFunc(ps.Categories, func(a, b CategoryCount) int {
			return slices.Index(model.Categories, a.Category) - slices.Index(model.Categories, b.Category)
		})
	}
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	// DB file size
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT patient_id, category, COUNT(*), MIN(date), MAX(date)
		FROM entries GROUP BY patient_id, category ORDER BY patient_id`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var patientID, category, first, last string
		var count int
		if err := rows.Scan(&patientID, &category, &count, &first, &last); err != nil {
			return st, err
		}
		if n := len(st.Patients); n == 0 || st.Patients[n-1].PatientID != patientID {
			st.Patients = append(st.Patients, PatientStats{PatientID: patientID})
		}
		ps := &st.Patients[len(st.Patients)-1]
		firstDate, _ := model.ParseDate(first)
		lastDate, _ := model.ParseDate(last)
		if ps.FirstDate.IsZero() || firstDate.Compare(ps.FirstDate) < 0 {
			ps.FirstDate = firstDate
		}
		if lastDate.Compare(ps.LastDate) > 0 {
			ps.LastDate = lastDate
		}
		ps.Count += count
		ps.Categories = append(ps.Categories, CategoryCount{Category: model.Category(category), Count: count})
		st.TotalEntries += count
	}
	st.sort()

	return st, rows.Err()
}
