package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/manash/seedgraph/pkg/models"
)

var ErrFormKeyNotFound = errors.New("form field not set")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    state TEXT NOT NULL,
    total_steps INTEGER NOT NULL DEFAULT 0,
    output_count INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL UNIQUE,
    seed INTEGER NOT NULL,
    base_seed INTEGER NOT NULL,
    prompt TEXT NOT NULL,
    with_variations TEXT NOT NULL DEFAULT '',
    variation_amount REAL NOT NULL DEFAULT 0,
    session_id TEXT,
    record_json TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS form_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_seed ON records(seed);
CREATE INDEX IF NOT EXISTS idx_records_prompt ON records(prompt);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`

// Store is the local sqlite database: a mirror of the server's run log, the
// saved form and a log of generation sessions.
type Store struct {
	db *sql.DB
}

func NewStore() (*Store, error) {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return NewStoreWithPath(dbPath)
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func DefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".seedgraph", "seedgraph.db"), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SessionRow is one generation session as logged locally.
type SessionRow struct {
	ID          string
	Prompt      string
	State       State
	TotalSteps  int
	OutputCount int
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (s *Store) CreateSession(ctx context.Context, row *SessionRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, prompt, state, total_steps, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		row.ID, row.Prompt, row.State.String(), row.TotalSteps, row.StartedAt)
	return err
}

func (s *Store) FinishSession(ctx context.Context, row *SessionRow) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, output_count = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		row.State.String(), row.OutputCount, nullString(row.Error), row.FinishedAt, row.ID)
	return err
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]*SessionRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, state, total_steps, output_count, error, started_at, finished_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*SessionRow
	for rows.Next() {
		row := &SessionRow{}
		var state string
		var errText sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&row.ID, &row.Prompt, &state, &row.TotalSteps, &row.OutputCount,
			&errText, &row.StartedAt, &finished); err != nil {
			return nil, err
		}
		row.State = ParseState(state)
		row.Error = errText.String
		row.FinishedAt = finished.Time
		sessions = append(sessions, row)
	}
	return sessions, rows.Err()
}

// SaveRecord mirrors a record. Records already stored (same url) are left
// untouched; the return value reports whether a row was inserted.
func (s *Store) SaveRecord(ctx context.Context, rec models.GenerationRecord, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO records (url, seed, base_seed, prompt, with_variations, variation_amount, session_id, record_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.URL, rec.Seed, rec.BaseSeed, rec.Prompt, rec.WithVariations, rec.VariationAmount,
		nullString(sessionID), rec.ToJSON())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SyncRecords mirrors a full run log in order and returns how many records
// were new.
func (s *Store) SyncRecords(ctx context.Context, records []models.GenerationRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO records (url, seed, base_seed, prompt, with_variations, variation_amount, record_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	added := 0
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx, rec.URL, rec.Seed, rec.BaseSeed, rec.Prompt,
			rec.WithVariations, rec.VariationAmount, rec.ToJSON())
		if err != nil {
			return added, fmt.Errorf("failed to store %s: %w", rec.URL, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// ListRecords returns mirrored records in the order they were first seen.
func (s *Store) ListRecords(ctx context.Context) ([]models.GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record_json FROM records ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.GenerationRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := parseRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) GetRecord(ctx context.Context, url string) (models.GenerationRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record_json FROM records WHERE url = ?`, url).Scan(&data)
	if err != nil {
		return models.GenerationRecord{}, err
	}
	return parseRecord(data)
}

// RecordTimes maps url to the time the record was first mirrored.
func (s *Store) RecordTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, created_at FROM records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	times := make(map[string]time.Time)
	for rows.Next() {
		var url string
		var t time.Time
		if err := rows.Scan(&url, &t); err != nil {
			return nil, err
		}
		times[url] = t
	}
	return times, rows.Err()
}

func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// SetFormValue stores one form field. Only string values are kept.
func (s *Store) SetFormValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO form_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) GetFormValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM form_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrFormKeyNotFound, key)
	}
	return value, err
}

func (s *Store) FormValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM form_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

// ResetForm clears every stored field.
func (s *Store) ResetForm(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM form_state`)
	return err
}

func parseRecord(data string) (models.GenerationRecord, error) {
	var rec models.GenerationRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("corrupt record: %w", err)
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func DefaultImageDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".seedgraph", "images"), nil
}

func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
