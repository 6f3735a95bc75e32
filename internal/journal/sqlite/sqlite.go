package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stimsync/internal/journal"
)

type Store struct {
	db     *sql.DB
	dbPath string
}

func New(dbPath string) journal.Journal {
	return &Store{dbPath: dbPath}
}

const createCyclesTableSQL = `
CREATE TABLE IF NOT EXISTS cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	outcome TEXT NOT NULL,
	latency_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_cycles_timestamp ON cycles (timestamp);
CREATE INDEX IF NOT EXISTS idx_cycles_outcome ON cycles (outcome);
`

func (s *Store) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create journal directory %s: %w", dir, err)
	}

	log.Printf("Initializing cycle journal at: %s", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return fmt.Errorf("failed to open journal database: %w", err)
	}
	s.db = db

	// SQLite behaves best with a single writer connection.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping journal database: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createCyclesTableSQL); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to create cycles table: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, e journal.Entry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	query := `INSERT INTO cycles (timestamp, outcome, latency_ms)
	          VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, e.Timestamp, string(e.Outcome), e.LatencyMS)
	if err != nil {
		return 0, fmt.Errorf("failed to insert cycle: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, timestamp, outcome, latency_ms
	          FROM cycles
	          ORDER BY id DESC
	          LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var e journal.Entry
		var outcome string
		var latency sql.NullInt64

		if err := rows.Scan(&e.ID, &e.Timestamp, &outcome, &latency); err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}
		e.Outcome = journal.Outcome(outcome)
		e.LatencyMS = latency.Int64
		entries = append(entries, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle rows: %w", err)
	}

	return entries, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
