// Package model defines the wire types exchanged with the ingestion backend.
package model

import "time"

// JobStatus represents the backend lifecycle state of an ingestion job.
type JobStatus string

// Job status values reported by the backend.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// PollingConfig declares CDC-style incremental polling for a table.
type PollingConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	DeltaColumn     string `json:"delta_column" mapstructure:"delta_column"`
	IntervalSeconds int    `json:"interval_seconds" mapstructure:"interval_seconds"`
}

// Interval converts IntervalSeconds to a duration.
func (p PollingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// TableConfig carries the per-table overrides of an ingestion request.
type TableConfig struct {
	Name      string         `json:"name" mapstructure:"name"`
	Limit     *int           `json:"limit,omitempty" mapstructure:"limit"`
	BatchSize *int           `json:"batch_size,omitempty" mapstructure:"batch_size"`
	Polling   *PollingConfig `json:"polling,omitempty" mapstructure:"polling"`
}

// TableResult is the final outcome the backend records for one table of a job.
type TableResult struct {
	Name     string `json:"name"`
	Rows     int64  `json:"rows"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the result carries an error.
func (r TableResult) Failed() bool {
	return r.Error != ""
}

// Job is the backend's view of one ingestion run.
type Job struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	Tables       []string        `json:"tables"`
	TableConfigs []TableConfig   `json:"table_configs,omitempty"`
	Results      []TableResult   `json:"results"`
	Progress     []ProgressEvent `json:"progress"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Polling returns the enabled polling config for table, if any.
func (j Job) Polling(table string) *PollingConfig {
	for _, tc := range j.TableConfigs {
		if tc.Name == table && tc.Polling != nil && tc.Polling.Enabled {
			p := *tc.Polling
			return &p
		}
	}
	return nil
}

// JobsSnapshot is a full point-in-time listing of jobs, as returned by GET /api/v1/jobs.
type JobsSnapshot struct {
	Jobs []Job `json:"jobs"`
}

// IngestRequest is the body of POST /api/v1/ingest.
type IngestRequest struct {
	Tables    []TableConfig  `json:"tables"`
	PgURL     string         `json:"pg_url,omitempty"`
	ChURL     string         `json:"ch_url,omitempty"`
	Limit     *int           `json:"limit,omitempty"`
	BatchSize *int           `json:"batch_size,omitempty"`
	Polling   *PollingConfig `json:"polling,omitempty"`
}

// Column describes one source table column.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// ConnectionResult is the outcome of probing one database.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ConnectionTestResponse is the body returned by POST /api/v1/test-connection.
type ConnectionTestResponse struct {
	PostgreSQL ConnectionResult `json:"postgresql"`
	ClickHouse ConnectionResult `json:"clickhouse"`
}
