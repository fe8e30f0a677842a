package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Database keeps the history of runs and the per-drive lock
type Database struct {
	db *sql.DB
}

// NewDatabase creates and initializes a new SQLite database
func NewDatabase(dbPath string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	database := &Database{db: db}
	if err := database.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return database, nil
}

func (d *Database) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		device TEXT NOT NULL,
		media TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT,
		image_size INTEGER,
		image_blake3 TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS _busy (
		name TEXT PRIMARY KEY
	);

	CREATE INDEX IF NOT EXISTS idx_runs_device ON runs(device);
	CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// TryLock attempts to acquire a named lock, returns true if successful
func (d *Database) TryLock(ctx context.Context, name string) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		`INSERT INTO _busy(name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check lock result: %w", err)
	}

	return rowsAffected > 0, nil
}

// ReleaseLock releases a named lock
func (d *Database) ReleaseLock(ctx context.Context, name string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM _busy WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// CreateRun inserts a new run record in the init state
func (d *Database) CreateRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = ulid.Make().String()
	}
	if run.State == "" {
		run.State = StateInit
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (id, device, media, state, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Device, string(run.Media), run.State, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}
	return nil
}

// UpdateRunState updates the state of a run
func (d *Database) UpdateRunState(ctx context.Context, id, state string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE runs SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}
	return nil
}

// UpdateRunImage records the fingerprint of the image that was burned
func (d *Database) UpdateRunImage(ctx context.Context, id string, size int64, digest string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE runs SET image_size = ?, image_blake3 = ? WHERE id = ?`, size, digest, id)
	if err != nil {
		return fmt.Errorf("failed to update run image: %w", err)
	}
	return nil
}

// FinishRun stores the terminal state and failure message of a run
func (d *Database) FinishRun(ctx context.Context, id, state, message string, finishedAt time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, error = ?, finished_at = ? WHERE id = ?`,
		state, message, finishedAt, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a device, newest first
func (d *Database) ListRuns(ctx context.Context, device string, limit int) ([]*RunRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, device, media, state, error, image_size, image_blake3, started_at, finished_at
		FROM runs WHERE device = ? ORDER BY id DESC LIMIT ?`, device, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var media string
	var errMsg, imageDigest sql.NullString
	var imageSize sql.NullInt64
	var finishedAt sql.NullTime

	if err := row.Scan(&run.ID, &run.Device, &media, &run.State, &errMsg,
		&imageSize, &imageDigest, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}

	run.Media = MediaType(media)
	run.Error = errMsg.String
	run.ImageSize = imageSize.Int64
	run.ImageDigest = imageDigest.String
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}

	return &run, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Context keys for logger injection
type contextKey string

const loggerContextKey contextKey = "logger"

// WithLogger adds logger to context
func WithLogger(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// GetLogger retrieves logger from context
func GetLogger(ctx context.Context) logrus.FieldLogger {
	if logger, ok := ctx.Value(loggerContextKey).(logrus.FieldLogger); ok {
		return logger
	}
	return logrus.StandardLogger()
}
