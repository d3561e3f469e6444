// Package journal keeps a local SQLite history of runs that wrote to a
// stack: one row per run and one row per object the run created. The
// journal is advisory; write failures are logged and never surface to the
// import being recorded.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	dirPerms      = 0o700
	busyTimeoutMS = 5000
)

// Status is the final state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("journal: run not found")

// Store is an open journal database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the journal at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return nil, fmt.Errorf("journal: creating directory: %w", err)
	}

	logger.Debug("opening journal", slog.String("path", path))

	// Connection-scoped pragmas go in the DSN so every pooled connection
	// gets them.
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", path, busyTimeoutMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}

	// One connection serializes writers from concurrent import goroutines.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("journal: %s: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies the embedded goose migrations.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("journal: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("journal: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("journal: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Run is one recorded CLI run. Its RecordCreated method satisfies the
// importer's journal hook.
type Run struct {
	ID       string
	Kind     string
	Instance string

	store   *Store
	created atomic.Int64
}

// BeginRun inserts a new run in StatusRunning.
func (s *Store) BeginRun(ctx context.Context, kind, instance string) (*Run, error) {
	r := &Run{ID: uuid.NewString(), Kind: kind, Instance: instance, store: s}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, instance, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		r.ID, kind, instance, s.now().UnixNano(), string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("journal: inserting run: %w", err)
	}

	s.logger.Debug("journal run started", slog.String("run", r.ID), slog.String("kind", kind))

	return r, nil
}

// RecordCreated stores one created object. Failures are logged only.
func (r *Run) RecordCreated(ctx context.Context, collection, name, remoteID, rev string) {
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO created (run_id, collection, name, remote_id, rev, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, collection, name, remoteID, rev, r.store.now().UnixNano())
	if err != nil {
		r.store.logger.Warn("journal write failed",
			slog.String("run", r.ID),
			slog.String("remote_id", remoteID),
			slog.String("error", err.Error()),
		)

		return
	}

	r.created.Add(1)
}

// Created returns how many objects were recorded through this Run.
func (r *Run) Created() int64 {
	return r.created.Load()
}

// Finish closes the run with its final status and a one-line summary.
func (r *Run) Finish(ctx context.Context, status Status, summary string) error {
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, summary = ? WHERE id = ?`,
		r.store.now().UnixNano(), string(status), summary, r.ID)
	if err != nil {
		return fmt.Errorf("journal: finishing run: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return ErrRunNotFound
	}

	return nil
}

// RunSummary is a row of the run history.
type RunSummary struct {
	ID         string
	Kind       string
	Instance   string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     Status
	Summary    string
	Created    int
}

// Entry is one created object of a run.
type Entry struct {
	Collection string
	Name       string
	RemoteID   string
	Rev        string
	CreatedAt  time.Time
}

// RecentRuns lists up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.kind, r.instance, r.started_at, r.finished_at, r.status, r.summary,
		       (SELECT COUNT(*) FROM created c WHERE c.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary

	for rows.Next() {
		var (
			rs       RunSummary
			started  int64
			finished sql.NullInt64
			status   string
		)

		if err := rows.Scan(&rs.ID, &rs.Kind, &rs.Instance, &started, &finished, &status, &rs.Summary, &rs.Created); err != nil {
			return nil, fmt.Errorf("journal: scanning run: %w", err)
		}

		rs.StartedAt = time.Unix(0, started)
		rs.Status = Status(status)

		if finished.Valid {
			rs.FinishedAt = time.Unix(0, finished.Int64)
		}

		out = append(out, rs)
	}

	return out, rows.Err()
}

// Entries returns the objects created by a run, oldest first.
func (s *Store) Entries(ctx context.Context, runID string) ([]Entry, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("journal: looking up run: %w", err)
	}

	if exists == 0 {
		return nil, ErrRunNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, name, remote_id, rev, created_at
		FROM created WHERE run_id = ?
		ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: listing entries: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		var (
			e  Entry
			at int64
		)

		if err := rows.Scan(&e.Collection, &e.Name, &e.RemoteID, &e.Rev, &at); err != nil {
			return nil, fmt.Errorf("journal: scanning entry: %w", err)
		}

		e.CreatedAt = time.Unix(0, at)
		out = append(out, e)
	}

	return out, rows.Err()
}
