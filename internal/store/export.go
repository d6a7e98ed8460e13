package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/rcliao/clinical-summary/internal/model"
)

// ExportAll returns a patient's timeline in persistence form, oldest first.
// An empty patientID exports every patient.
func ExportAll(ctx context.Context, s Store, patientID string) ([]model.EntryRecord, error) {
	patients := []string{patientID}
	if patientID == "" {
		var err error
		patients, err = s.Patients(ctx)
		if err != nil {
			return nil, err
		}
	}

	var records []model.EntryRecord
	for _, id := range patients {
		entries, err := Collect(s.Query(ctx, QueryParams{PatientID: id}))
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", id, err)
		}
		slices.Reverse(entries)
		for _, e := range entries {
			records = append(records, e.Record())
		}
	}
	return records, nil
}

// Import appends records in order. Records that carry an id may be the
// target of a later record's supersedes; those references are rewritten to
// the newly assigned ids. Stops at the first invalid record.
func Import(ctx context.Context, s Store, records []model.EntryRecord) (int, error) {
	remap := make(map[string]string)
	imported := 0
	for i, r := range records {
		supersedes := r.Supersedes
		if newID, ok := remap[supersedes]; ok {
			supersedes = newID
		}
		e, err := s.Append(ctx, AppendParams{
			PatientID:  r.PatientID,
			Text:       r.Text,
			Category:   r.Category,
			Date:       r.Date,
			Supersedes: supersedes,
		})
		if err != nil {
			return imported, fmt.Errorf("record %d: %w", i, err)
		}
		if r.ID != "" {
			remap[r.ID] = e.ID
		}
		imported++
	}
	return imported, nil
}

// DecodeRecords reads a JSON array of persistence records.
func DecodeRecords(r io.Reader) ([]model.EntryRecord, error) {
	var records []model.EntryRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}
