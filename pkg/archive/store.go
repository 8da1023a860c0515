package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zen-systems/cascadegate/pkg/metrics"
	_ "modernc.org/sqlite"
)

// Store persists cascade outcome records in SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// DefaultPath returns ~/.cascadegate/archive.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cascadegate", "archive.db"), nil
}

// Open opens or creates the archive. An empty path uses DefaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		domain TEXT,
		escalated INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		cost REAL NOT NULL,
		baseline_cost REAL NOT NULL,
		record TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_created_at ON outcomes(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_outcomes_domain ON outcomes(domain);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Write stores one record. Records with the same id are replaced.
func (s *Store) Write(ctx context.Context, rec metrics.Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO outcomes (id, created_at, mode, status, domain, escalated, attempts, cost, baseline_cost, record)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		created_at = excluded.created_at,
		mode = excluded.mode,
		status = excluded.status,
		domain = excluded.domain,
		escalated = excluded.escalated,
		attempts = excluded.attempts,
		cost = excluded.cost,
		baseline_cost = excluded.baseline_cost,
		record = excluded.record
	`
	escalated := 0
	if rec.Escalated {
		escalated = 1
	}
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Mode,
		rec.Status,
		rec.Domain,
		escalated,
		rec.Attempts,
		rec.Cost,
		rec.BaselineCost,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]metrics.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT record FROM outcomes ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []metrics.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec metrics.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summary aggregates every stored record.
func (s *Store) Summary(ctx context.Context) (metrics.Summary, error) {
	recs, err := s.List(ctx, 0)
	if err != nil {
		return metrics.Summary{}, err
	}
	return metrics.Summarize(recs), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ metrics.Sink = (*Store)(nil)
