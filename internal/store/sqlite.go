package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/clinical-summary/internal/errors"
	"github.com/rcliao/clinical-summary/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	writers patientLocks

	entropyMu sync.Mutex
	entropy   *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		patient_id  TEXT NOT NULL,
		text        TEXT NOT NULL,
		category    TEXT NOT NULL,
		date        TEXT NOT NULL,
		supersedes  TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_timeline ON entries(patient_id, date DESC, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(patient_id, category);
	CREATE INDEX IF NOT EXISTS idx_entries_supersedes ON entries(supersedes);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, p AppendParams) (*model.RecordEntry, error) {
	es, err := s.AppendBatch(ctx, []AppendParams{p})
	if err != nil {
		return nil, err
	}
	return es[0], nil
}

// AppendBatch inserts every entry in one transaction.
func (s *SQLiteStore) AppendBatch(ctx context.Context, ps []AppendParams) ([]*model.RecordEntry, error) {
	vs, err := validateAll(ps)
	if err != nil {
		return nil, err
	}

	unlock := s.writers.lockAll(vs)
	defer unlock()

	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]*model.RecordEntry, 0, len(vs))
	for _, v := range vs {
		var supersedes *string
		if v.supersedes != "" {
			var owner string
			err := tx.QueryRowContext(ctx, `SELECT patient_id FROM entries WHERE id = ?`, v.supersedes).Scan(&owner)
			if err != nil || owner != v.patientID {
				return nil, errors.NewValidation("supersedes", "unknown entry "+v.supersedes+" for patient "+v.patientID)
			}
			supersedes = &v.supersedes
		}

		id := s.newID()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entries (id, patient_id, text, category, date, supersedes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, v.patientID, v.text, string(v.category), v.date.String(), supersedes, now)
		if err != nil {
			return nil, fmt.Errorf("insert entry: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert entry: %w", err)
		}

		out = append(out, &model.RecordEntry{
			ID:         id,
			PatientID:  v.patientID,
			Text:       v.text,
			Category:   v.category,
			Date:       v.date,
			Seq:        seq,
			Supersedes: v.supersedes,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

const entryColumns = `seq, id, patient_id, text, category, date, supersedes`

func (s *SQLiteStore) Query(ctx context.Context, p QueryParams) iter.Seq2[model.RecordEntry, error] {
	return func(yield func(model.RecordEntry, error) bool) {
		where := []string{"patient_id = ?"}
		args := []interface{}{p.PatientID}

		if len(p.Categories) > 0 {
			marks := make([]string, len(p.Categories))
			for i, c := range p.Categories {
				marks[i] = "?"
				args = append(args, string(c))
			}
			where = append(where, "category IN ("+strings.Join(marks, ", ")+")")
		}
		if !p.From.IsZero() {
			where = append(where, "date >= ?")
			args = append(args, p.From.String())
		}
		if !p.To.IsZero() {
			where = append(where, "date <= ?")
			args = append(args, p.To.String())
		}

		query := `SELECT ` + entryColumns + ` FROM entries WHERE ` + strings.Join(where, " AND ") +
			` ORDER BY date DESC, seq DESC`
		if p.Limit > 0 {
			query += ` LIMIT ?`
			args = append(args, p.Limit)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(model.RecordEntry{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if !yield(e, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.RecordEntry{}, err)
		}
	}
}

func (s *SQLiteStore) Latest(ctx context.Context, patientID string, category model.Category) (*model.RecordEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries e
		 WHERE patient_id = ? AND category = ?
		   AND NOT EXISTS (SELECT 1 FROM entries c WHERE c.supersedes = e.id)
		 ORDER BY date DESC, seq DESC LIMIT 1`, patientID, string(category))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(patientID + "/" + string(category))
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) Patients(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT patient_id FROM entries ORDER BY patient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.RecordEntry, error) {
	var e model.RecordEntry
	var category, date string
	var supersedes sql.NullString

	err := row.Scan(&e.Seq, &e.ID, &e.PatientID, &e.Text, &category, &date, &supersedes)
	if err != nil {
		return e, err
	}

	e.Category = model.Category(category)
	e.Date, err = model.ParseDate(date)
	if err != nil {
		return e, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if supersedes.Valid {
		e.Supersedes = supersedes.String
	}

	return e, nil
}
