package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ingest-progress/internal/model"
	"github.com/JakeFAU/ingest-progress/internal/progress"
	"github.com/JakeFAU/ingest-progress/internal/storage"
	"github.com/JakeFAU/ingest-progress/internal/storage/memory"
	"github.com/JakeFAU/ingest-progress/internal/store"
)

func change(table string, status progress.Status, rows int64, at time.Time, sum progress.Summary) progress.Change {
	return progress.Change{
		JobID:   "job_1",
		Table:   table,
		Current: progress.TableProgress{Table: table, Status: status, CurrentRows: rows},
		Summary: sum,
		At:      at,
	}
}

// TestStoreSinkCollapsesBatch ensures only the latest change per table and job is persisted.
func TestStoreSinkCollapsesBatch(t *testing.T) {
	t.Parallel()

	repo := memory.NewProgressStore()
	sink := NewStoreSink(repo, nil)
	now := time.Unix(1700000000, 0).UTC()

	failed := change("customers", progress.StatusFailed, 0, now.Add(3*time.Second),
		progress.Summary{TotalTables: 2, CompletedCount: 1, FailedCount: 1, OverallPercentage: 50, TotalRowsTransferred: 150})
	failed.Current.Error = "relation does not exist"
	batch := []progress.Change{
		change("orders", progress.StatusExtracting, 50, now, progress.Summary{TotalTables: 2, InFlightCount: 1, PendingCount: 1}),
		change("orders", progress.StatusInserting, 100, now.Add(time.Second), progress.Summary{TotalTables: 2, InFlightCount: 1, PendingCount: 1}),
		change("orders", progress.StatusCompleted, 150, now.Add(2*time.Second),
			progress.Summary{TotalTables: 2, CompletedCount: 1, PendingCount: 1, OverallPercentage: 50, TotalRowsTransferred: 150}),
		failed,
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	rows, err := repo.ListTableProgress(context.Background(), "job_1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "orders", rows[0].Table)
	require.Equal(t, store.StatusCompleted, rows[0].Status)
	require.Equal(t, int64(150), rows[0].CurrentRows)
	require.Equal(t, now.Add(2*time.Second), rows[0].UpdatedAt)
	require.Equal(t, store.StatusFailed, rows[1].Status)
	require.Equal(t, "relation does not exist", *rows[1].ErrorMessage)

	sum, err := repo.GetJobSummary(context.Background(), "job_1")
	require.NoError(t, err)
	require.True(t, sum.Done())
	require.InDelta(t, 50.0, sum.OverallPercentage, 1e-9)
}

// TestStoreSinkPersistsCDCAfterCompletion keeps history in step with live CDC counts.
func TestStoreSinkPersistsCDCAfterCompletion(t *testing.T) {
	t.Parallel()

	repo := memory.NewProgressStore()
	sink := NewStoreSink(repo, nil)
	live := progress.NewStore()
	now := time.Unix(1700000000, 0).UTC()
	ctx := context.Background()

	total := int64(100)
	done := live.ApplyEvent(model.ProgressEvent{
		JobID: "job_1", Table: "orders", Kind: model.KindCompleted, CurrentRows: &total, Timestamp: now,
	})
	require.NoError(t, sink.Consume(ctx, done))

	cdcRows := int64(7)
	cdc := live.ApplyEvent(model.ProgressEvent{
		JobID: "job_1", Table: "orders", Kind: model.KindCDCUpdate, RowCount: &cdcRows, Timestamp: now.Add(time.Minute),
	})
	require.NotEmpty(t, cdc)
	require.NoError(t, sink.Consume(ctx, cdc))

	state, _ := live.State("job_1")
	rows, err := repo.ListTableProgress(ctx, "job_1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, store.StatusCompleted, rows[0].Status)
	require.Equal(t, int64(100), rows[0].CurrentRows)
	require.Equal(t, state["orders"].CDCRows, rows[0].CDCRows)
	require.Equal(t, int64(7), rows[0].CDCRows)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &storage.MockRepository{}
	repo.On("UpsertTableProgress", mock.Anything, mock.AnythingOfType("store.TableProgress")).
		Return(errors.New("connection refused")).Once()

	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Change{
		change("orders", progress.StatusExtracting, 1, time.Now(), progress.Summary{TotalTables: 1, InFlightCount: 1}),
	})
	require.ErrorContains(t, err, "upsert table progress")
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "UpsertJobSummary", mock.Anything, mock.Anything)
}

func TestStoreSinkWithoutRepositoryIsNoop(t *testing.T) {
	t.Parallel()

	var sink *StoreSink
	require.NoError(t, sink.Consume(context.Background(), nil))
	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), []progress.Change{{JobID: "job_1"}}))
}
