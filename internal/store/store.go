// Package store persists session snapshots in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"realtime-dashboard/internal/telemetry"
	"realtime-dashboard/internal/textnorm"
)

// Fixed-width so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const defaultListLimit = 200

var ErrNotFound = errors.New("snapshot not found")

// Summary is the list view of a saved snapshot.
type Summary struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Model        string     `json:"model"`
	Voice        string     `json:"voice"`
	TotalCost    float64    `json:"totalCost"`
	InputTokens  int        `json:"inputTokens"`
	OutputTokens int        `json:"outputTokens"`
	SessionStart *time.Time `json:"sessionStartTime"`
	DurationMs   *int64     `json:"durationMs"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Record is a saved snapshot with its summary.
type Record struct {
	Summary
	Snapshot telemetry.Snapshot `json:"snapshot"`
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("sessions db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS session_snapshots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			voice TEXT NOT NULL DEFAULT '',
			total_cost REAL NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			session_start_utc TEXT,
			duration_ms INTEGER,
			payload TEXT NOT NULL,
			created_at_utc TEXT NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_session_snapshots_created ON session_snapshots(created_at_utc);",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save stores snap under a new id. A blank name becomes "Session <n>" where n
// is one past the newest row.
func (s *Store) Save(snap telemetry.Snapshot) (Record, error) {
	// The next rowid stays ahead of every surviving row, so default names
	// do not repeat after deletes.
	var last int64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(rowid), 0) FROM session_snapshots").Scan(&last); err != nil {
		return Record{}, err
	}
	snap.Name = textnorm.SnapshotName(snap.Name, int(last)+1)

	payload, err := json.Marshal(snap)
	if err != nil {
		return Record{}, fmt.Errorf("encode snapshot: %w", err)
	}

	now := time.Now().UTC()
	rec := Record{
		Summary: Summary{
			ID:           uuid.NewString(),
			Name:         snap.Name,
			Model:        snap.Model,
			Voice:        snap.Voice,
			TotalCost:    snap.SessionStats.TotalCost,
			InputTokens:  snap.SessionStats.InputTokens(),
			OutputTokens: snap.SessionStats.OutputTokens(),
			SessionStart: snap.SessionStartTime,
			DurationMs:   snap.DurationMs,
			CreatedAt:    now,
		},
		Snapshot: snap,
	}

	var startAny, durationAny any
	if snap.SessionStartTime != nil {
		startAny = snap.SessionStartTime.UTC().Format(timeLayout)
	}
	if snap.DurationMs != nil {
		durationAny = *snap.DurationMs
	}
	_, err = s.db.Exec(
		`INSERT INTO session_snapshots (id, name, model, voice, total_cost, input_tokens, output_tokens, session_start_utc, duration_ms, payload, created_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Model, rec.Voice, rec.TotalCost, rec.InputTokens, rec.OutputTokens,
		startAny, durationAny, string(payload), now.Format(timeLayout),
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns summaries newest first.
func (s *Store) List(limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(`SELECT id, name, model, voice, total_cost, input_tokens, output_tokens, session_start_utc, duration_ms, created_at_utc
		FROM session_snapshots
		ORDER BY created_at_utc DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get loads one snapshot.
func (s *Store) Get(id string) (Record, error) {
	row := s.db.QueryRow(`SELECT id, name, model, voice, total_cost, input_tokens, output_tokens, session_start_utc, duration_ms, created_at_utc, payload
		FROM session_snapshots WHERE id=?`, id)

	var rec Record
	var start sql.NullString
	var duration sql.NullInt64
	var created, payload string
	err := row.Scan(&rec.ID, &rec.Name, &rec.Model, &rec.Voice, &rec.TotalCost, &rec.InputTokens, &rec.OutputTokens,
		&start, &duration, &created, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	fillTimes(&rec.Summary, start, duration, created)
	if err := json.Unmarshal([]byte(payload), &rec.Snapshot); err != nil {
		return Record{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes one snapshot.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM session_snapshots WHERE id=?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (Summary, error) {
	var sum Summary
	var start sql.NullString
	var duration sql.NullInt64
	var created string
	if err := row.Scan(&sum.ID, &sum.Name, &sum.Model, &sum.Voice, &sum.TotalCost, &sum.InputTokens, &sum.OutputTokens,
		&start, &duration, &created); err != nil {
		return Summary{}, err
	}
	fillTimes(&sum, start, duration, created)
	return sum, nil
}

func fillTimes(sum *Summary, start sql.NullString, duration sql.NullInt64, created string) {
	if start.Valid {
		if parsed, err := time.Parse(timeLayout, start.String); err == nil {
			sum.SessionStart = &parsed
		}
	}
	if duration.Valid {
		d := duration.Int64
		sum.DurationMs = &d
	}
	sum.CreatedAt, _ = time.Parse(timeLayout, created)
}
