package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// Table statuses persisted in table_progress.status.
const (
	StatusPending    = "pending"
	StatusExtracting = "extracting"
	StatusInserting  = "inserting"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IsTerminal reports whether a persisted table status is final. Terminal rows
// only accept CDC count updates.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// TableProgress models one row of the table_progress table.
type TableProgress struct {
	// JobID is the transfer job the table belongs to.
	JobID string
	// Table is the source table name.
	Table string
	// Status is pending/extracting/inserting/completed/failed.
	Status      string
	CurrentRows int64
	// TotalRows is nil until the backend reports an expected total.
	TotalRows  *int64
	Percentage float64
	// ErrorMessage optionally stores the failure reason.
	ErrorMessage *string
	CDCRows      int64
	UpdatedAt    time.Time
}

// JobSummary models the job_summaries table used for historical listings.
type JobSummary struct {
	JobID                string
	TotalTables          int
	CompletedCount       int
	FailedCount          int
	InFlightCount        int
	PendingCount         int
	OverallPercentage    float64
	TotalRowsTransferred int64
	UpdatedAt            time.Time
}

// Done reports whether every table of the job reached a terminal state.
func (s JobSummary) Done() bool {
	return s.TotalTables > 0 && s.CompletedCount+s.FailedCount == s.TotalTables
}

// ProgressRepository persists reconciled progress.
type ProgressRepository interface {
	// UpsertTableProgress inserts or updates a table row. Rows already in a
	// terminal status are left untouched.
	UpsertTableProgress(ctx context.Context, rec TableProgress) error
	// UpsertJobSummary replaces the stored rollup for a job.
	UpsertJobSummary(ctx context.Context, sum JobSummary) error

	// GetJobSummary loads a single job rollup or returns ErrNotFound.
	GetJobSummary(ctx context.Context, jobID string) (JobSummary, error)
	// ListJobSummaries returns rollups, most recently updated first.
	ListJobSummaries(ctx context.Context, limit, offset int) ([]JobSummary, error)
	// ListTableProgress returns every persisted table row for one job.
	ListTableProgress(ctx context.Context, jobID string) ([]TableProgress, error)
}
