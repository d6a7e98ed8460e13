// Package model defines the core clinical record and summary types.
package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rcliao/clinical-summary/internal/errors"
)

// Category classifies a record entry. The set is closed.
type Category string

const (
	CategorySummaryNotes  Category = "summary_notes"
	CategoryPrescriptions Category = "prescriptions"
	CategoryAppointments  Category = "appointments"
	CategoryExam          Category = "exam"
	CategoryNewComplaint  Category = "new_complaint"
	CategoryOther         Category = "other"
)

// Categories lists every valid category in canonical order.
var Categories = []Category{
	CategorySummaryNotes,
	CategoryPrescriptions,
	CategoryAppointments,
	CategoryExam,
	CategoryNewComplaint,
	CategoryOther,
}

// ParseCategory validates s against the closed category set.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Categories {
		if c == valid {
			return c, nil
		}
	}
	return "", errors.NewValidation("category", "unknown category "+`"`+s+`"`)
}

// DateLayout is the wire format of record dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day.
type Date struct {
	t time.Time
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, errors.NewValidation("date", "unparsable date "+`"`+s+`"`)
	}
	return Date{t: t}, nil
}

// MustDate is ParseDate for literals known to be valid.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf truncates a timestamp to its calendar date in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time { return d.t }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// DaysSince returns whole days from o to d; negative when d is earlier.
func (d Date) DaysSince(o Date) float64 {
	return d.t.Sub(o.t).Hours() / 24
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RecordEntry is one immutable, categorized, dated note in a patient's history.
type RecordEntry struct {
	ID         string   `json:"id,omitempty"`
	PatientID  string   `json:"patient_id"`
	Text       string   `json:"text"`
	Category   Category `json:"category"`
	Date       Date     `json:"date"`
	Seq        int64    `json:"seq,omitempty"`
	Supersedes string   `json:"supersedes,omitempty"`
}

// EntryRecord is the persistence shape of an entry: all fields are raw
// strings so that validation happens at the store boundary.
type EntryRecord struct {
	ID         string `json:"id,omitempty"`
	PatientID  string `json:"patient_id"`
	Text       string `json:"text"`
	Category   string `json:"category"`
	Date       string `json:"date"`
	Supersedes string `json:"supersedes,omitempty"`
}

// Record converts an entry back to its persistence shape.
func (e RecordEntry) Record() EntryRecord {
	return EntryRecord{
		ID:         e.ID,
		PatientID:  e.PatientID,
		Text:       e.Text,
		Category:   string(e.Category),
		Date:       e.Date.String(),
		Supersedes: e.Supersedes,
	}
}
