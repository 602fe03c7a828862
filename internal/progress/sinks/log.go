package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each change in the batch using structured fields. Terminal
// transitions are logged at Info, everything else at Debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Change) error {
	for _, c := range batch {
		fields := []zap.Field{
			zap.String("job_id", c.JobID),
			zap.String("table", c.Table),
			zap.Stringer("status", c.Current.Status),
			zap.Int64("current_rows", c.Current.CurrentRows),
			zap.Float64("percentage", c.Current.Percentage),
			zap.Int("completed", c.Summary.CompletedCount),
			zap.Int("failed", c.Summary.FailedCount),
			zap.Int("total_tables", c.Summary.TotalTables),
			zap.Float64("overall_percentage", c.Summary.OverallPercentage),
		}
		if c.Previous != nil {
			fields = append(fields, zap.Stringer("previous_status", c.Previous.Status))
		}
		if c.Current.Error != "" {
			fields = append(fields, zap.String("error", c.Current.Error))
		}
		if c.EnteredTerminal() {
			s.logger.Info("table finished", fields...)
			continue
		}
		s.logger.Debug("progress change", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
