// Package history keeps a SQLite ledger of suite runs and of the users the
// positive scenario created on the remote service.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/theroutercompany/bookstore_e2e/internal/suite"
)

// timeLayout has a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    base_url TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    passed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS case_results (
    run_id TEXT NOT NULL REFERENCES runs(id),
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    outcome TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    PRIMARY KEY (run_id, kind, name)
);

CREATE INDEX IF NOT EXISTS idx_case_results_name ON case_results(name, started_at);

CREATE TABLE IF NOT EXISTS created_users (
    user_name TEXT NOT NULL,
    base_url TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (base_url, user_name)
);
`

// CaseRun is one recorded result of a case.
type CaseRun struct {
	RunID     string
	Name      string
	Kind      string
	Outcome   string
	Message   string
	Duration  time.Duration
	StartedAt time.Time
}

// CreatedUser is a user left behind on the remote service.
type CreatedUser struct {
	UserName  string
	BaseURL   string
	CreatedAt time.Time
}

// Store is the SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if !strings.Contains(dsn, "_pragma=busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordReport stores a run and all of its case results.
func (s *Store) RecordReport(ctx context.Context, report suite.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, base_url, started_at, finished_at, passed)
		VALUES (?, ?, ?, ?, ?)`,
		report.RunID, report.BaseURL,
		report.StartedAt.UTC().Format(timeLayout),
		report.FinishedAt.UTC().Format(timeLayout),
		boolToInt(report.Passed()),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, res := range report.Results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO case_results (run_id, name, kind, outcome, message, duration_ms, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, res.Name, string(res.Kind), string(res.Outcome), res.Message,
			res.Duration.Milliseconds(), res.StartedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert case result %q: %w", res.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// RecordCreatedUser notes a user created on the service at baseURL.
func (s *Store) RecordCreatedUser(ctx context.Context, baseURL, userName string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO created_users (user_name, base_url, created_at)
		VALUES (?, ?, ?)`,
		userName, baseURL, createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert created user: %w", err)
	}
	return nil
}

// Recent returns the latest results of a case, newest first.
func (s *Store) Recent(ctx context.Context, caseName string, limit int) ([]CaseRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, name, kind, outcome, message, duration_ms, started_at
		FROM case_results WHERE name = ?
		ORDER BY started_at DESC LIMIT ?`,
		caseName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query case results: %w", err)
	}
	defer rows.Close()

	var out []CaseRun
	for rows.Next() {
		var (
			run       CaseRun
			durMs     int64
			startedAt string
		)
		if err := rows.Scan(&run.RunID, &run.Name, &run.Kind, &run.Outcome, &run.Message, &durMs, &startedAt); err != nil {
			return nil, fmt.Errorf("scan case result: %w", err)
		}
		run.Duration = time.Duration(durMs) * time.Millisecond
		run.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// CreatedUsers lists users recorded for baseURL, oldest first.
func (s *Store) CreatedUsers(ctx context.Context, baseURL string) ([]CreatedUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_name, base_url, created_at
		FROM created_users WHERE base_url = ?
		ORDER BY created_at ASC`,
		baseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("query created users: %w", err)
	}
	defer rows.Close()

	var out []CreatedUser
	for rows.Next() {
		var (
			user      CreatedUser
			createdAt string
		)
		if err := rows.Scan(&user.UserName, &user.BaseURL, &createdAt); err != nil {
			return nil, fmt.Errorf("scan created user: %w", err)
		}
		user.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
