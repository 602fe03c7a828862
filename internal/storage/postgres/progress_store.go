// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ingest-progress/internal/store"
)

// Schema creates the tables ProgressStore reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS table_progress (
	job_id        TEXT             NOT NULL,
	table_name    TEXT             NOT NULL,
	status        TEXT             NOT NULL,
	current_rows  BIGINT           NOT NULL DEFAULT 0,
	total_rows    BIGINT,
	percentage    DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message TEXT,
	cdc_rows      BIGINT           NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (job_id, table_name)
);
CREATE TABLE IF NOT EXISTS job_summaries (
	job_id             TEXT PRIMARY KEY,
	total_tables       INTEGER          NOT NULL,
	completed_count    INTEGER          NOT NULL,
	failed_count       INTEGER          NOT NULL,
	in_flight_count    INTEGER          NOT NULL,
	pending_count      INTEGER          NOT NULL,
	overall_percentage DOUBLE PRECISION NOT NULL,
	total_rows         BIGINT           NOT NULL,
	updated_at         TIMESTAMPTZ      NOT NULL
);`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ProgressStore implements the store.ProgressRepository interface using Postgres.
type ProgressStore struct {
	pool pool
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore connects a pool using cfg.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProgressStore{pool: p}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(p pool) (*ProgressStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &ProgressStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *ProgressStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the progress tables if they do not exist.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create progress schema: %w", err)
	}
	return nil
}

// UpsertTableProgress inserts or updates a table row. Once a row is completed
// or failed only cdc_rows and updated_at change.
func (s *ProgressStore) UpsertTableProgress(ctx context.Context, rec store.TableProgress) error {
	query := `
		INSERT INTO table_progress (
			job_id, table_name, status, current_rows, total_rows,
			percentage, error_message, cdc_rows, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id, table_name) DO UPDATE
		SET status = CASE WHEN table_progress.status IN ('completed', 'failed')
				THEN table_progress.status ELSE EXCLUDED.status END,
			current_rows = CASE WHEN table_progress.status IN ('completed', 'failed')
				THEN table_progress.current_rows ELSE EXCLUDED.current_rows END,
			total_rows = CASE WHEN table_progress.status IN ('completed', 'failed')
				THEN table_progress.total_rows ELSE EXCLUDED.total_rows END,
			percentage = CASE WHEN table_progress.status IN ('completed', 'failed')
				THEN table_progress.percentage ELSE EXCLUDED.percentage END,
			error_message = CASE WHEN table_progress.status IN ('completed', 'failed')
				THEN table_progress.error_message ELSE EXCLUDED.error_message END,
			cdc_rows = EXCLUDED.cdc_rows,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.pool.Exec(ctx, query,
		rec.JobID,
		rec.Table,
		rec.Status,
		rec.CurrentRows,
		rec.TotalRows,
		rec.Percentage,
		rec.ErrorMessage,
		rec.CDCRows,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert table progress: %w", err)
	}
	return nil
}

// UpsertJobSummary replaces the stored rollup for a job.
func (s *ProgressStore) UpsertJobSummary(ctx context.Context, sum store.JobSummary) error {
	query := `
		INSERT INTO job_summaries (
			job_id, total_tables, completed_count, failed_count, in_flight_count,
			pending_count, overall_percentage, total_rows, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO UPDATE
		SET total_tables = EXCLUDED.total_tables,
			completed_count = EXCLUDED.completed_count,
			failed_count = EXCLUDED.failed_count,
			in_flight_count = EXCLUDED.in_flight_count,
			pending_count = EXCLUDED.pending_count,
			overall_percentage = EXCLUDED.overall_percentage,
			total_rows = EXCLUDED.total_rows,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.pool.Exec(ctx, query,
		sum.JobID,
		sum.TotalTables,
		sum.CompletedCount,
		sum.FailedCount,
		sum.InFlightCount,
		sum.PendingCount,
		sum.OverallPercentage,
		sum.TotalRowsTransferred,
		sum.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job summary: %w", err)
	}
	return nil
}

// GetJobSummary retrieves a single job rollup by its ID.
func (s *ProgressStore) GetJobSummary(ctx context.Context, jobID string) (store.JobSummary, error) {
	query := `
		SELECT job_id, total_tables, completed_count, failed_count, in_flight_count,
			pending_count, overall_percentage, total_rows, updated_at
		FROM job_summaries
		WHERE job_id = $1;
	`
	sum, err := scanSummary(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobSummary{}, store.ErrNotFound
		}
		return store.JobSummary{}, fmt.Errorf("failed to get job summary: %w", err)
	}
	return sum, nil
}

// ListJobSummaries retrieves job rollups, most recently updated first.
func (s *ProgressStore) ListJobSummaries(ctx context.Context, limit, offset int) ([]store.JobSummary, error) {
	query := `
		SELECT job_id, total_tables, completed_count, failed_count, in_flight_count,
			pending_count, overall_percentage, total_rows, updated_at
		FROM job_summaries
		ORDER BY updated_at DESC, job_id
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list job summaries: %w", err)
	}
	defer rows.Close()

	var out []store.JobSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job summary row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job summaries: %w", err)
	}
	return out, nil
}

// ListTableProgress retrieves the persisted table rows for a job.
func (s *ProgressStore) ListTableProgress(ctx context.Context, jobID string) ([]store.TableProgress, error) {
	query := `
		SELECT job_id, table_name, status, current_rows, total_rows,
			percentage, error_message, cdc_rows, updated_at
		FROM table_progress
		WHERE job_id = $1
		ORDER BY table_name;
	`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list table progress: %w", err)
	}
	defer rows.Close()

	var out []store.TableProgress
	for rows.Next() {
		var rec store.TableProgress
		err := rows.Scan(
			&rec.JobID,
			&rec.Table,
			&rec.Status,
			&rec.CurrentRows,
			&rec.TotalRows,
			&rec.Percentage,
			&rec.ErrorMessage,
			&rec.CDCRows,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan table progress row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate table progress: %w", err)
	}
	return out, nil
}

func scanSummary(row pgx.Row) (store.JobSummary, error) {
	var sum store.JobSummary
	err := row.Scan(
		&sum.JobID,
		&sum.TotalTables,
		&sum.CompletedCount,
		&sum.FailedCount,
		&sum.InFlightCount,
		&sum.PendingCount,
		&sum.OverallPercentage,
		&sum.TotalRowsTransferred,
		&sum.UpdatedAt,
	)
	return sum, err
}
