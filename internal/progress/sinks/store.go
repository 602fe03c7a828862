package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/progress"
	"github.com/JakeFAU/ingest-progress/internal/store"
)

// StoreSink persists reconciled progress via a store.ProgressRepository. It
// collapses each batch to the latest change per table and the latest summary
// per job to reduce write amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the collapsed batch to the repository. It respects ctx
// deadlines and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Change) error {
	if s == nil || s.repo == nil {
		return nil
	}
	tables, summaries := collapse(batch)
	for _, c := range tables {
		if err := s.repo.UpsertTableProgress(ctx, tableRecord(c)); err != nil {
			return fmt.Errorf("upsert table progress: %w", err)
		}
	}
	for _, c := range summaries {
		if err := s.repo.UpsertJobSummary(ctx, summaryRecord(c)); err != nil {
			return fmt.Errorf("upsert job summary: %w", err)
		}
	}
	s.logger.Debug("persisted progress batch",
		zap.Int("changes", len(batch)),
		zap.Int("tables", len(tables)),
		zap.Int("jobs", len(summaries)),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type tableKey struct {
	jobID string
	table string
}

// collapse keeps the last change per table and per job, in first-seen order.
func collapse(batch []progress.Change) (tables, jobs []progress.Change) {
	tableIdx := make(map[tableKey]int)
	jobIdx := make(map[string]int)
	for _, c := range batch {
		key := tableKey{jobID: c.JobID, table: c.Table}
		if i, ok := tableIdx[key]; ok {
			tables[i] = c
		} else {
			tableIdx[key] = len(tables)
			tables = append(tables, c)
		}
		if i, ok := jobIdx[c.JobID]; ok {
			jobs[i] = c
		} else {
			jobIdx[c.JobID] = len(jobs)
			jobs = append(jobs, c)
		}
	}
	return tables, jobs
}

func tableRecord(c progress.Change) store.TableProgress {
	cur := c.Current
	rec := store.TableProgress{
		JobID:       c.JobID,
		Table:       c.Table,
		Status:      cur.Status.String(),
		CurrentRows: cur.CurrentRows,
		Percentage:  cur.Percentage,
		CDCRows:     cur.CDCRows,
		UpdatedAt:   c.At,
	}
	if cur.TotalRows != nil {
		total := *cur.TotalRows
		rec.TotalRows = &total
	}
	if cur.Error != "" {
		msg := cur.Error
		rec.ErrorMessage = &msg
	}
	return rec
}

func summaryRecord(c progress.Change) store.JobSummary {
	sum := c.Summary
	return store.JobSummary{
		JobID:                c.JobID,
		TotalTables:          sum.TotalTables,
		CompletedCount:       sum.CompletedCount,
		FailedCount:          sum.FailedCount,
		InFlightCount:        sum.InFlightCount,
		PendingCount:         sum.PendingCount,
		OverallPercentage:    sum.OverallPercentage,
		TotalRowsTransferred: sum.TotalRowsTransferred,
		UpdatedAt:            c.At,
	}
}
