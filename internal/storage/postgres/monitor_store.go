package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/kr-car-crawler/internal/store"
)

const runColumns = `source, status, run_id, started_at, finished_at, updated_at, error_message,
	listings, inserted, restored, skipped, failed, swept`

// MarkPending records that a run for source has been scheduled.
func (s *Store) MarkPending(ctx context.Context, source string, at time.Time) error {
	query := `
		INSERT INTO parser_monitoring (source, status, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, source, store.RunPending, at); err != nil {
		return fmt.Errorf("mark %s pending: %w", source, err)
	}
	return nil
}

// MarkRunning records the start of a run and resets the previous counters.
func (s *Store) MarkRunning(ctx context.Context, source string, runID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO parser_monitoring (source, status, run_id, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (source) DO UPDATE
		SET status = EXCLUDED.status, run_id = EXCLUDED.run_id, started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at, finished_at = NULL, error_message = NULL,
			listings = 0, inserted = 0, restored = 0, skipped = 0, failed = 0, swept = 0;
	`
	if _, err := s.pool.Exec(ctx, query, source, store.RunRunning, runID, at); err != nil {
		return fmt.Errorf("mark %s running: %w", source, err)
	}
	return nil
}

// CompleteRun records the final status of the source's current run.
func (s *Store) CompleteRun(
	ctx context.Context,
	source string,
	status store.RunStatus,
	at time.Time,
	counts store.RunCounts,
	errMsg *string,
) error {
	query := `
		UPDATE parser_monitoring
		SET status = $2, finished_at = $3, updated_at = $3, error_message = $4,
			listings = $5, inserted = $6, restored = $7, skipped = $8, failed = $9, swept = $10
		WHERE source = $1;
	`
	tag, err := s.pool.Exec(
		ctx,
		query,
		source,
		status,
		at,
		errMsg,
		counts.Listings,
		counts.Inserted,
		counts.Restored,
		counts.Skipped,
		counts.Failed,
		counts.Swept,
	)
	if err != nil {
		return fmt.Errorf("complete %s run: %w", source, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete %s run: %w", source, store.ErrNotFound)
	}
	return nil
}

// GetRun loads the monitoring row for one source.
func (s *Store) GetRun(ctx context.Context, source string) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM parser_monitoring WHERE source = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, source))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get %s run: %w", source, err)
	}
	return run, nil
}

// ListRuns returns every monitoring row ordered by source.
func (s *Store) ListRuns(ctx context.Context) ([]store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM parser_monitoring ORDER BY source;`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.Source,
		&run.Status,
		&run.RunID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.UpdatedAt,
		&run.ErrorMessage,
		&run.Counts.Listings,
		&run.Counts.Inserted,
		&run.Counts.Restored,
		&run.Counts.Skipped,
		&run.Counts.Failed,
		&run.Counts.Swept,
	)
	return run, err
}
