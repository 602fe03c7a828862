// Package api hosts the read-only HTTP surface of the progress watcher.
// Notable routes:
//   - GET /healthz and /readyz for probes; readyz reports the event channel state.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress/jobs[/{job_id}] for the live reconciled view.
//   - GET /v1/history/jobs[/{job_id}] for persisted rollups via the
//     ProgressRepository interface.
package api
