package model

import (
	"errors"
	"fmt"
	"time"
)

// EventKind is the kind tag of a ProgressEvent.
type EventKind string

// Event kinds emitted by the backend. Table-scoped kinds drive the table state
// machine; KindCDCUpdate and KindJobCompleted are annotations.
const (
	KindStarted      EventKind = "started"
	KindExtracting   EventKind = "extracting"
	KindInserting    EventKind = "inserting"
	KindCompleted    EventKind = "completed"
	KindError        EventKind = "error"
	KindCDCUpdate    EventKind = "cdc_update"
	KindJobCompleted EventKind = "job_completed"
)

// Known reports whether k is one of the kinds above.
func (k EventKind) Known() bool {
	switch k {
	case KindStarted, KindExtracting, KindInserting, KindCompleted, KindError,
		KindCDCUpdate, KindJobCompleted:
		return true
	default:
		return false
	}
}

// ProgressEvent is one incremental fact about a (job, table) pair.
type ProgressEvent struct {
	// JobID identifies the owning job.
	JobID string `json:"job_id"`
	// Table is empty for job-level events.
	Table string `json:"table"`
	// Kind is the event tag (started, extracting, inserting, completed, error, ...).
	Kind EventKind `json:"event"`
	// Message is human readable; for error events it is the failure reason.
	Message string `json:"message"`
	// RowCount is the cumulative row count for the table.
	RowCount *int64 `json:"row_count,omitempty"`
	// CurrentRows is the progress-specific row count; preferred over RowCount.
	CurrentRows *int64 `json:"current_rows,omitempty"`
	// TotalRows is the expected total, usually derived from the table limit.
	TotalRows *int64 `json:"total_rows,omitempty"`
	// Percentage is the completion percentage in [0, 100].
	Percentage *float64 `json:"percentage,omitempty"`
	// Phase optionally refines the in-flight status (extracting or inserting).
	Phase string `json:"phase,omitempty"`
	// Duration is the backend-formatted elapsed time for completed events.
	Duration string `json:"duration,omitempty"`
	// Timestamp is set by the backend when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Validate performs coarse validation on ProgressEvent payloads.
func (e ProgressEvent) Validate() error {
	if e.JobID == "" {
		return errors.New("job_id is required")
	}
	if !e.Kind.Known() {
		return fmt.Errorf("unknown event %q", e.Kind)
	}
	if e.Kind == KindCDCUpdate && e.Table == "" {
		return errors.New("cdc_update requires table")
	}
	if e.Kind == KindCDCUpdate && e.Timestamp.IsZero() {
		return errors.New("cdc_update requires timestamp")
	}
	if e.Percentage != nil && (*e.Percentage < 0 || *e.Percentage > 100) {
		return fmt.Errorf("percentage %v out of range", *e.Percentage)
	}
	for name, v := range map[string]*int64{
		"row_count":    e.RowCount,
		"current_rows": e.CurrentRows,
		"total_rows":   e.TotalRows,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	return nil
}

// Rows returns the progress row count, falling back to the cumulative count.
func (e ProgressEvent) Rows() (int64, bool) {
	if e.CurrentRows != nil {
		return *e.CurrentRows, true
	}
	if e.RowCount != nil {
		return *e.RowCount, true
	}
	return 0, false
}
