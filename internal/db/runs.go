package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("extraction run not found")

// Run is the audit entry of one extraction request. Field values and OCR
// text are never stored.
type Run struct {
	ID            uuid.UUID `json:"id"`
	RequestID     string    `json:"request_id"`
	Source        string    `json:"source"` // "image" or "text"
	Mode          string    `json:"mode"`
	Strategy      string    `json:"strategy"`
	Status        string    `json:"status"` // "complete" or "failed"
	FailureKind   string    `json:"failure_kind,omitempty"`
	Diagnostics   int       `json:"diagnostics"`
	UnknownFields int       `json:"unknown_fields"`
	UsedFallback  bool      `json:"used_fallback"`
	OCRMillis     int64     `json:"ocr_ms"`
	ExtractMillis int64     `json:"extract_ms"`
	TotalMillis   int64     `json:"total_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

const createRunsTable = `
	CREATE TABLE IF NOT EXISTS extraction_runs (
		id             UUID PRIMARY KEY,
		request_id     TEXT NOT NULL,
		source         TEXT NOT NULL,
		mode           TEXT NOT NULL,
		strategy       TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		failure_kind   TEXT NOT NULL DEFAULT '',
		diagnostics    INTEGER NOT NULL DEFAULT 0,
		unknown_fields INTEGER NOT NULL DEFAULT 0,
		used_fallback  BOOLEAN NOT NULL DEFAULT FALSE,
		ocr_ms         BIGINT NOT NULL DEFAULT 0,
		extract_ms     BIGINT NOT NULL DEFAULT 0,
		total_ms       BIGINT NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

const runColumns = `id, request_id, source, mode, strategy, status, failure_kind,
	diagnostics, unknown_fields, used_fallback, ocr_ms, extract_ms, total_ms, created_at`

// EnsureSchema creates the audit table if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createRunsTable); err != nil {
		return fmt.Errorf("failed to create extraction_runs: %w", err)
	}
	return nil
}

// SaveRun inserts run, assigning its id and creation time.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO extraction_runs (
			id, request_id, source, mode, strategy, status, failure_kind,
			diagnostics, unknown_fields, used_fallback, ocr_ms, extract_ms, total_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`,
		run.ID, run.RequestID, run.Source, run.Mode, run.Strategy, run.Status, run.FailureKind,
		run.Diagnostics, run.UnknownFields, run.UsedFallback, run.OCRMillis, run.ExtractMillis, run.TotalMillis,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+`
		FROM extraction_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM extraction_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	err := row.Scan(
		&run.ID, &run.RequestID, &run.Source, &run.Mode, &run.Strategy, &run.Status, &run.FailureKind,
		&run.Diagnostics, &run.UnknownFields, &run.UsedFallback,
		&run.OCRMillis, &run.ExtractMillis, &run.TotalMillis, &run.CreatedAt,
	)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return run, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, err
}
