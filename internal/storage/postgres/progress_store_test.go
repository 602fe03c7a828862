package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ingest-progress/internal/store"
)

var summaryColumns = []string{
	"job_id", "total_tables", "completed_count", "failed_count", "in_flight_count",
	"pending_count", "overall_percentage", "total_rows", "updated_at",
}

func newMockStore(t *testing.T) (*ProgressStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestNewProgressStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewProgressStore(context.Background(), Config{})
	require.Error(t, err)

	_, err = NewProgressStoreWithPool(nil)
	require.Error(t, err)
}

func TestUpsertTableProgressGuardsTerminalRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	total := int64(1000)
	rec := store.TableProgress{
		JobID:       "job_1",
		Table:       "orders",
		Status:      store.StatusInserting,
		CurrentRows: 400,
		TotalRows:   &total,
		Percentage:  40,
		UpdatedAt:   now,
	}

	mock.ExpectExec(`(?s)INSERT INTO table_progress.*status = CASE WHEN table_progress\.status IN \('completed', 'failed'\)\s+THEN table_progress\.status ELSE EXCLUDED\.status END`).
		WithArgs(
			rec.JobID,
			rec.Table,
			rec.Status,
			rec.CurrentRows,
			rec.TotalRows,
			rec.Percentage,
			rec.ErrorMessage,
			rec.CDCRows,
			rec.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertTableProgress(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTableProgressAdvancesCDCOnTerminalRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	rec := store.TableProgress{
		JobID:       "job_1",
		Table:       "orders",
		Status:      store.StatusCompleted,
		CurrentRows: 1000,
		Percentage:  100,
		CDCRows:     7,
		UpdatedAt:   now,
	}

	// cdc_rows and updated_at are assigned outside the terminal guard; every
	// other column keeps its stored value once the row is final.
	mock.ExpectExec(`(?s)INSERT INTO table_progress.*` +
		`error_message = CASE WHEN table_progress\.status IN \('completed', 'failed'\)\s+THEN table_progress\.error_message ELSE EXCLUDED\.error_message END,\s+` +
		`cdc_rows = EXCLUDED\.cdc_rows,\s+updated_at = EXCLUDED\.updated_at;\s*$`).
		WithArgs(
			rec.JobID,
			rec.Table,
			rec.Status,
			rec.CurrentRows,
			rec.TotalRows,
			rec.Percentage,
			rec.ErrorMessage,
			int64(7),
			rec.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertTableProgress(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertJobSummaryWrapsErrors(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	sum := store.JobSummary{JobID: "job_1", TotalTables: 3, CompletedCount: 2, UpdatedAt: time.Unix(0, 0).UTC()}

	mock.ExpectExec("INSERT INTO job_summaries").
		WithArgs(
			sum.JobID,
			sum.TotalTables,
			sum.CompletedCount,
			sum.FailedCount,
			sum.InFlightCount,
			sum.PendingCount,
			sum.OverallPercentage,
			sum.TotalRowsTransferred,
			sum.UpdatedAt,
		).
		WillReturnError(errors.New("connection reset"))

	err := s.UpsertJobSummary(context.Background(), sum)
	require.ErrorContains(t, err, "failed to upsert job summary")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobSummary(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("(?s)SELECT (.+) FROM job_summaries").
		WithArgs("job_1").
		WillReturnRows(pgxmock.NewRows(summaryColumns).
			AddRow("job_1", 3, 2, 0, 1, 0, 66.67, int64(330), now))

	got, err := s.GetJobSummary(context.Background(), "job_1")
	require.NoError(t, err)
	require.Equal(t, store.JobSummary{
		JobID:                "job_1",
		TotalTables:          3,
		CompletedCount:       2,
		InFlightCount:        1,
		OverallPercentage:    66.67,
		TotalRowsTransferred: 330,
		UpdatedAt:            now,
	}, got)

	mock.ExpectQuery("(?s)SELECT (.+) FROM job_summaries").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.GetJobSummary(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobSummaries(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("(?s)SELECT (.+) FROM job_summaries").
		WithArgs(10, 20).
		WillReturnRows(pgxmock.NewRows(summaryColumns).
			AddRow("job_2", 1, 1, 0, 0, 0, 100.0, int64(5), now).
			AddRow("job_1", 2, 0, 1, 0, 1, 0.0, int64(0), now.Add(-time.Minute)))

	got, err := s.ListJobSummaries(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "job_2", got[0].JobID)
	require.True(t, got[0].Done())
	require.Equal(t, 1, got[1].FailedCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTableProgress(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	total := int64(100)
	reason := "relation does not exist"

	mock.ExpectQuery("(?s)SELECT (.+) FROM table_progress").
		WithArgs("job_1").
		WillReturnRows(pgxmock.NewRows([]string{
			"job_id", "table_name", "status", "current_rows", "total_rows",
			"percentage", "error_message", "cdc_rows", "updated_at",
		}).
			AddRow("job_1", "customers", store.StatusFailed, int64(0), (*int64)(nil), 100.0, &reason, int64(0), now).
			AddRow("job_1", "orders", store.StatusCompleted, int64(100), &total, 100.0, (*string)(nil), int64(7), now))

	got, err := s.ListTableProgress(context.Background(), "job_1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].ErrorMessage)
	require.Equal(t, reason, *got[0].ErrorMessage)
	require.Nil(t, got[0].TotalRows)
	require.Equal(t, int64(100), *got[1].TotalRows)
	require.Equal(t, int64(7), got[1].CDCRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
