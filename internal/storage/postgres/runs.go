package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-harvester/internal/store"
)

const runColumns = `id, institution_abbrv, mode, status, started_at, finished_at,
	pages_planned, pages_done, pages_failed, records_inserted, error_message, updated_at`

// StartRun inserts a harvest_runs row. An existing row is left unchanged.
func (s *Store) StartRun(ctx context.Context, id uuid.UUID, institution, mode string, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (id, institution_abbrv, mode, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, id, institution, mode, string(store.RunRunning), startedAt); err != nil {
		return fmt.Errorf("start run %s: %w", id, err)
	}
	return nil
}

// SetPagesPlanned records the planned page count of a run.
func (s *Store) SetPagesPlanned(ctx context.Context, id uuid.UUID, pages int) error {
	query := `UPDATE harvest_runs SET pages_planned = $2, updated_at = NOW() WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, query, id, pages)
	if err != nil {
		return fmt.Errorf("set planned pages for run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddPages applies a page delta to a run.
func (s *Store) AddPages(ctx context.Context, id uuid.UUID, delta store.PageDelta) error {
	query := `
		UPDATE harvest_runs
		SET pages_done = pages_done + $2,
			pages_failed = pages_failed + $3,
			records_inserted = records_inserted + $4,
			updated_at = GREATEST(updated_at, $5)
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, id, delta.Done, delta.Failed, delta.Inserted, delta.At)
	if err != nil {
		return fmt.Errorf("add pages to run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *Store) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE harvest_runs
		SET status = $2, finished_at = $3, error_message = $4, updated_at = $3
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, id, string(status), finishedAt, errMsg)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM harvest_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *Store) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM harvest_runs
		WHERE $1::text IS NULL OR status = $1
		ORDER BY started_at DESC, id
		LIMIT $2 OFFSET $3;
	`
	var statusArg *string
	if status != nil {
		value := string(*status)
		statusArg = &value
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Institution,
		&run.Mode,
		&status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.PagesPlanned,
		&run.PagesDone,
		&run.PagesFailed,
		&run.RecordsInserted,
		&run.ErrorMessage,
		&run.UpdatedAt,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
