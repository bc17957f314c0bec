package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// schema contains the DDL executed on first open. Using IF NOT EXISTS makes
// it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id        TEXT PRIMARY KEY,
    contest_slug  TEXT NOT NULL,
    contest_title TEXT NOT NULL DEFAULT '',
    processed_at  INTEGER NOT NULL,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS runs_contest ON runs (contest_slug, processed_at);

CREATE TABLE IF NOT EXISTS results (
    run_id   TEXT NOT NULL REFERENCES runs(run_id),
    identity TEXT NOT NULL,
    label    TEXT NOT NULL,
    fallback BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (run_id, identity)
);
`

// SQLite stores backups in a local SQLite database in WAL mode.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dbPath, enables WAL mode and
// busy timeout, and creates the schema if it does not exist.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}

	// SQLite has a single writer; one pooled connection keeps the PRAGMAs
	// below in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Store implements Sink. A backup with a run id already stored is replaced.
func (s *SQLite) Store(ctx context.Context, b Backup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const upsertRun = `
		INSERT INTO runs (run_id, contest_slug, contest_title, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			contest_slug = excluded.contest_slug,
			contest_title = excluded.contest_title,
			processed_at = excluded.processed_at`
	if _, err := tx.ExecContext(ctx, upsertRun, b.RunID, b.ContestSlug, b.ContestTitle, b.ProcessedAt.Unix()); err != nil {
		return fmt.Errorf("archive: store run %s: %w", b.RunID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM results WHERE run_id = ?", b.RunID); err != nil {
		return fmt.Errorf("archive: clear results of %s: %w", b.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO results (run_id, identity, label, fallback) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("archive: prepare results: %w", err)
	}
	defer stmt.Close()
	for _, id := range b.Identities() {
		if _, err := stmt.ExecContext(ctx, b.RunID, id, b.Results[id], b.IsFallback(id)); err != nil {
			return fmt.Errorf("archive: store result %s/%s: %w", b.RunID, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit %s: %w", b.RunID, err)
	}
	return nil
}

// Latest returns the most recent backup of contestSlug. The boolean is
// false when none is stored.
func (s *SQLite) Latest(ctx context.Context, contestSlug string) (Backup, bool, error) {
	const q = `
		SELECT run_id, contest_title, processed_at FROM runs
		WHERE contest_slug = ?
		ORDER BY processed_at DESC, created_at DESC
		LIMIT 1`
	b := Backup{ContestSlug: contestSlug}
	var at int64
	err := s.db.QueryRowContext(ctx, q, contestSlug).Scan(&b.RunID, &b.ContestTitle, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Backup{}, false, nil
	}
	if err != nil {
		return Backup{}, false, fmt.Errorf("archive: latest %s: %w", contestSlug, err)
	}
	b.ProcessedAt = time.Unix(at, 0)

	rows, err := s.db.QueryContext(ctx, "SELECT identity, label, fallback FROM results WHERE run_id = ? ORDER BY identity", b.RunID)
	if err != nil {
		return Backup{}, false, fmt.Errorf("archive: results of %s: %w", b.RunID, err)
	}
	defer rows.Close()

	b.Results = make(map[string]string)
	for rows.Next() {
		var id, label string
		var fallback bool
		if err := rows.Scan(&id, &label, &fallback); err != nil {
			return Backup{}, false, fmt.Errorf("archive: scan result: %w", err)
		}
		b.Results[id] = label
		if fallback {
			b.Fallbacks = append(b.Fallbacks, id)
		}
	}
	if err := rows.Err(); err != nil {
		return Backup{}, false, fmt.Errorf("archive: iterate results: %w", err)
	}
	return b, true, nil
}

// RunSummary is one row of Runs.
type RunSummary struct {
	RunID       string
	ContestSlug string
	ProcessedAt time.Time
	Results     int
	Fallbacks   int
}

// Runs lists the most recent runs, newest first, at most limit of them.
func (s *SQLite) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	const q = `
		SELECT r.run_id, r.contest_slug, r.processed_at,
		       COUNT(x.identity), COALESCE(SUM(CASE WHEN x.fallback THEN 1 ELSE 0 END), 0)
		FROM runs r LEFT JOIN results x ON x.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.processed_at DESC, r.created_at DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var at int64
		if err := rows.Scan(&r.RunID, &r.ContestSlug, &at, &r.Results, &r.Fallbacks); err != nil {
			return nil, fmt.Errorf("archive: scan run: %w", err)
		}
		r.ProcessedAt = time.Unix(at, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes runs processed before cutoff together with their results
// and returns the number of runs removed.
func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const purgeResults = `DELETE FROM results WHERE run_id IN (SELECT run_id FROM runs WHERE processed_at < ?)`
	if _, err := tx.ExecContext(ctx, purgeResults, cutoff.Unix()); err != nil {
		return 0, fmt.Errorf("archive: prune results: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE processed_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("archive: prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive: prune runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("archive: commit prune: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
