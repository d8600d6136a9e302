// Package storage provides the SQLite-backed run journal.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/stockagent/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database holding journaled decisions.
type Storage struct {
	db         *sql.DB
	maxRecords int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/stockagent/data.db.
func New(maxRecords int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "stockagent", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxRecords: maxRecords}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id          TEXT NOT NULL,
			requirement     TEXT NOT NULL,
			ticker          TEXT NOT NULL,
			price           REAL NOT NULL,
			change_percent  REAL NOT NULL,
			threshold       REAL NOT NULL,
			direction       TEXT NOT NULL,
			triggered       INTEGER NOT NULL DEFAULT 0,
			reason          TEXT,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddRecord journals one decision and trims the table to maxRecords rows.
func (s *Storage) AddRecord(rec *models.RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("invalid record: run id is required")
	}
	if rec.Ticker == "" {
		return fmt.Errorf("invalid record: ticker is required")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO runs
			(run_id, requirement, ticker, price, change_percent, threshold,
			 direction, triggered, reason, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.Requirement, rec.Ticker, rec.Price, rec.ChangePercent,
		rec.Threshold, string(rec.Direction), boolToInt(rec.Triggered), rec.Reason,
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	if err := rotate(tx, s.maxRecords); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentRuns returns up to k records, newest first.
func (s *Storage) RecentRuns(k int) ([]models.RunRecord, error) {
	rows, err := s.db.Query(`SELECT `+recordCols+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	records := []models.RunRecord{}
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RunRecords returns every record of one run in insertion order.
func (s *Storage) RunRecords(runID string) ([]models.RunRecord, error) {
	rows, err := s.db.Query(`SELECT `+recordCols+` FROM runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []models.RunRecord
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of journaled records.
func (s *Storage) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// Rotate keeps at most maxRecords newest records by created_at.
func (s *Storage) Rotate() error {
	return rotate(s.db, s.maxRecords)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func rotate(db execer, maxRecords int) error {
	if maxRecords <= 0 {
		return nil
	}
	_, err := db.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY created_at DESC, id DESC LIMIT ?
		)`, maxRecords)
	if err != nil {
		return fmt.Errorf("failed to rotate runs: %w", err)
	}
	return nil
}

const recordCols = `run_id, requirement, ticker, price, change_percent, threshold,
	direction, triggered, reason, created_at`

func scanRecord(scan func(...any) error) (models.RunRecord, error) {
	var r models.RunRecord
	var direction string
	var triggered int
	var createdAtNano int64
	err := scan(
		&r.RunID, &r.Requirement, &r.Ticker, &r.Price, &r.ChangePercent, &r.Threshold,
		&direction, &triggered, &r.Reason, &createdAtNano,
	)
	if err != nil {
		return r, err
	}
	r.Direction = models.Direction(direction)
	r.Triggered = triggered != 0
	r.CreatedAt = time.Unix(0, createdAtNano)
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
