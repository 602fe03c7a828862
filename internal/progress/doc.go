// Package progress reconciles the two progress feeds of an ingestion backend,
// the polled jobs snapshot and the live event stream, into one monotonic
// per-table view. Store is the single writer of that view; every mutation is
// published as a Change through a non-blocking Hub that batches changes out to
// pluggable sinks such as logs, Prometheus, or a repository.
package progress
