package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is RFC 3339 with a fixed-width fractional second. LatestRun
// orders timestamps lexicographically, and RFC3339Nano trims trailing
// zeros, which breaks that ordering within a second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Types
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID         string  `db:"id"`
	Stack      string  `db:"stack"`
	Status     string  `db:"status"`
	StartedAt  string  `db:"started_at"`
	FinishedAt *string `db:"finished_at"`
}

// serviceRow represents a run_services row in the database.
type serviceRow struct {
	RunID       string `db:"run_id"`
	Name        string `db:"name"`
	Rank        int    `db:"rank"`
	Position    int    `db:"position"`
	ContainerID string `db:"container_id"`
	Status      string `db:"status"`
}

func (r runRow) toRun() (*Run, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at: %w", err)
	}

	run := &Run{
		ID:        r.ID,
		Stack:     r.Stack,
		Status:    RunStatus(r.Status),
		StartedAt: startedAt,
	}
	if r.FinishedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *r.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	return run, nil
}

// =============================================================================
// Run Operations
// =============================================================================

// CreateRun records a new run with its service records.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("CreateRun", run.Stack, err.Error(), err)
	}
	defer tx.Rollback()

	var finishedAt *string
	if run.FinishedAt != nil {
		v := run.FinishedAt.UTC().Format(timeLayout)
		finishedAt = &v
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, stack, status, started_at, finished_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Stack, string(run.Status), run.StartedAt.UTC().Format(timeLayout), finishedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateRun", run.Stack, "run already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", run.Stack, err.Error(), err)
	}

	if err := insertServices(ctx, tx, run); err != nil {
		return NewStoreError("CreateRun", run.Stack, err.Error(), err)
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("CreateRun", run.Stack, err.Error(), err)
	}
	return nil
}

// UpdateRun updates a run's status, finish time and service records.
// Service records are replaced wholesale.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("UpdateRun", run.Stack, err.Error(), err)
	}
	defer tx.Rollback()

	var finishedAt *string
	if run.FinishedAt != nil {
		v := run.FinishedAt.UTC().Format(timeLayout)
		finishedAt = &v
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), finishedAt, run.ID,
	)
	if err != nil {
		return NewStoreError("UpdateRun", run.Stack, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateRun", run.Stack, "run not found", ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_services WHERE run_id = ?`, run.ID); err != nil {
		return NewStoreError("UpdateRun", run.Stack, err.Error(), err)
	}
	if err := insertServices(ctx, tx, run); err != nil {
		return NewStoreError("UpdateRun", run.Stack, err.Error(), err)
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("UpdateRun", run.Stack, err.Error(), err)
	}
	return nil
}

// LatestRun returns the most recent run for a stack.
func (s *SQLiteStore) LatestRun(ctx context.Context, stack string) (*Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, stack, status, started_at, finished_at
		   FROM runs WHERE stack = ?
		  ORDER BY started_at DESC, id DESC LIMIT 1`, stack)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LatestRun", stack, "no runs recorded", ErrNotFound)
		}
		return nil, NewStoreError("LatestRun", stack, err.Error(), err)
	}

	run, err := row.toRun()
	if err != nil {
		return nil, NewStoreError("LatestRun", stack, err.Error(), err)
	}

	var svcRows []serviceRow
	err = s.db.SelectContext(ctx, &svcRows,
		`SELECT run_id, name, rank, position, container_id, status
		   FROM run_services WHERE run_id = ? ORDER BY position`, run.ID)
	if err != nil {
		return nil, NewStoreError("LatestRun", stack, err.Error(), err)
	}

	for _, sr := range svcRows {
		run.Services = append(run.Services, ServiceRecord{
			Name:        sr.Name,
			Rank:        sr.Rank,
			Position:    sr.Position,
			ContainerID: sr.ContainerID,
			Status:      sr.Status,
		})
	}

	return run, nil
}

// insertServices inserts all service records of a run.
func insertServices(ctx context.Context, tx *sqlx.Tx, run *Run) error {
	for _, svc := range run.Services {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_services (run_id, name, rank, position, container_id, status)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, svc.Name, svc.Rank, svc.Position, svc.ContainerID, svc.Status,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
