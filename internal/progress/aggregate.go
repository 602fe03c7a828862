package progress

import (
	"math"

	"github.com/samber/lo"
)

// Summary is the job-level rollup of a job's tables.
type Summary struct {
	CompletedCount       int     `json:"completed_count"`
	FailedCount          int     `json:"failed_count"`
	InFlightCount        int     `json:"in_flight_count"`
	PendingCount         int     `json:"pending_count"`
	TotalTables          int     `json:"total_tables"`
	OverallPercentage    float64 `json:"overall_percentage"`
	TotalRowsTransferred int64   `json:"total_rows_transferred"`
}

// Done reports whether every table reached a terminal state.
func (s Summary) Done() bool {
	return s.TotalTables > 0 && s.CompletedCount+s.FailedCount == s.TotalTables
}

// Summarize derives the rollup for one job's tables. Only completed tables
// count towards OverallPercentage, rounded to two decimals; an empty job
// reports 0%.
func Summarize(tables []TableProgress) Summary {
	s := Summary{
		CompletedCount: lo.CountBy(tables, func(tp TableProgress) bool { return tp.Status == StatusCompleted }),
		FailedCount:    lo.CountBy(tables, func(tp TableProgress) bool { return tp.Status == StatusFailed }),
		InFlightCount:  lo.CountBy(tables, func(tp TableProgress) bool { return tp.Status.InFlight() }),
		PendingCount:   lo.CountBy(tables, func(tp TableProgress) bool { return tp.Status == StatusPending }),
		TotalTables:    len(tables),
		TotalRowsTransferred: lo.SumBy(tables, func(tp TableProgress) int64 {
			return tp.CurrentRows
		}),
	}
	if s.TotalTables > 0 {
		pct := float64(s.CompletedCount) / float64(s.TotalTables) * 100
		s.OverallPercentage = math.Round(pct*100) / 100
	}
	return s
}
