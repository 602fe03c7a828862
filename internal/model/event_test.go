package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProgressEventValidate(t *testing.T) {
	t.Parallel()

	ts := time.Unix(1700000000, 0).UTC()
	neg := int64(-1)
	over := 120.0
	cases := []struct {
		name    string
		evt     ProgressEvent
		wantErr bool
	}{
		{name: "valid", evt: ProgressEvent{JobID: "job_1", Table: "users", Kind: KindExtracting, Timestamp: ts}},
		{name: "job level", evt: ProgressEvent{JobID: "job_1", Kind: KindStarted, Timestamp: ts}},
		{name: "missing job", evt: ProgressEvent{Table: "users", Kind: KindStarted}, wantErr: true},
		{name: "unknown kind", evt: ProgressEvent{JobID: "job_1", Kind: "paused"}, wantErr: true},
		{name: "cdc without table", evt: ProgressEvent{JobID: "job_1", Kind: KindCDCUpdate, Timestamp: ts}, wantErr: true},
		{name: "cdc without timestamp", evt: ProgressEvent{JobID: "job_1", Table: "users", Kind: KindCDCUpdate}, wantErr: true},
		{name: "cdc", evt: ProgressEvent{JobID: "job_1", Table: "users", Kind: KindCDCUpdate, Timestamp: ts}},
		{
			name:    "negative rows",
			evt:     ProgressEvent{JobID: "job_1", Table: "users", Kind: KindInserting, CurrentRows: &neg},
			wantErr: true,
		},
		{
			name:    "percentage out of range",
			evt:     ProgressEvent{JobID: "job_1", Table: "users", Kind: KindInserting, Percentage: &over},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestProgressEventRowsFallsBackToRowCount(t *testing.T) {
	t.Parallel()

	var evt ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(`{
		"job_id": "job_1",
		"table": "orders",
		"event": "completed",
		"message": "Ingestion completed",
		"row_count": 420,
		"duration": "1.5s",
		"timestamp": "2024-01-02T03:04:05Z"
	}`), &evt))

	rows, ok := evt.Rows()
	require.True(t, ok)
	require.Equal(t, int64(420), rows)
	require.Nil(t, evt.Percentage)

	current := int64(7)
	evt.CurrentRows = &current
	rows, ok = evt.Rows()
	require.True(t, ok)
	require.Equal(t, int64(7), rows)

	_, ok = ProgressEvent{}.Rows()
	require.False(t, ok)
}

func TestJobPollingReturnsEnabledConfigOnly(t *testing.T) {
	t.Parallel()

	job := Job{
		ID: "job_1",
		TableConfigs: []TableConfig{
			{Name: "users", Polling: &PollingConfig{Enabled: true, DeltaColumn: "updated_at", IntervalSeconds: 30}},
			{Name: "orders", Polling: &PollingConfig{Enabled: false, DeltaColumn: "id"}},
			{Name: "events"},
		},
	}

	p := job.Polling("users")
	require.NotNil(t, p)
	require.Equal(t, "updated_at", p.DeltaColumn)
	require.Equal(t, 30*time.Second, p.Interval())
	require.Nil(t, job.Polling("orders"))
	require.Nil(t, job.Polling("events"))
	require.Nil(t, job.Polling("missing"))
}
