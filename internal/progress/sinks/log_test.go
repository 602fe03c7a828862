package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/ingest-progress/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()

	done := change("orders", progress.StatusCompleted, 10, now, progress.Summary{TotalTables: 1, CompletedCount: 1})
	done.Previous = &progress.TableProgress{Table: "orders", Status: progress.StatusInserting}
	require.NoError(t, sink.Consume(context.Background(), []progress.Change{
		change("orders", progress.StatusInserting, 5, now, progress.Summary{TotalTables: 1, InFlightCount: 1}),
		done,
	}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	require.Equal(t, zap.DebugLevel, entries[0].Level)
	require.Equal(t, "table finished", entries[1].Message)
	require.Equal(t, "inserting", entries[1].ContextMap()["previous_status"])
	require.NoError(t, sink.Close(context.Background()))
}
