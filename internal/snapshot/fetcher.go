// Package snapshot polls the backend for full job listings and merges them
// into the progress store.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/metrics"
	"github.com/JakeFAU/ingest-progress/internal/model"
	"github.com/JakeFAU/ingest-progress/internal/progress"
)

const defaultInterval = 5 * time.Second

// Source fetches a full jobs snapshot.
type Source interface {
	ListJobs(ctx context.Context) (model.JobsSnapshot, error)
}

// Applier merges a snapshot; progress.Store satisfies it.
type Applier interface {
	ApplySnapshot(snap model.JobsSnapshot) []progress.Change
}

// Config controls the poll loop.
type Config struct {
	// Interval between polls (default 5s).
	Interval time.Duration
	// Timeout bounds one fetch; zero leaves it to the source.
	Timeout time.Duration
	// BaseURL labels fetch metrics.
	BaseURL string
}

// Fetcher periodically fetches snapshots and hands them to an Applier. A
// failed fetch leaves the applier untouched.
type Fetcher struct {
	cfg     Config
	source  Source
	applier Applier
	logger  *zap.Logger
	refresh chan struct{}
}

// NewFetcher constructs a Fetcher.
func NewFetcher(cfg Config, source Source, applier Applier, logger *zap.Logger) (*Fetcher, error) {
	if source == nil {
		return nil, errors.New("snapshot source is required")
	}
	if applier == nil {
		return nil, errors.New("snapshot applier is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		source:  source,
		applier: applier,
		logger:  logger.Named("snapshot"),
		refresh: make(chan struct{}, 1),
	}, nil
}

// FetchOnce performs one fetch and apply, returning the number of changes.
func (f *Fetcher) FetchOnce(ctx context.Context) (int, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	snap, err := f.source.ListJobs(ctx)
	metrics.ObserveSnapshotFetch(f.cfg.BaseURL, err, time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("fetch snapshot: %w", err)
	}
	changes := f.applier.ApplySnapshot(snap)
	f.logger.Debug("snapshot applied", zap.Int("jobs", len(snap.Jobs)), zap.Int("changes", len(changes)))
	return len(changes), nil
}

// Refresh requests an immediate fetch from Run. It never blocks; requests
// made while one is already pending are coalesced.
func (f *Fetcher) Refresh() {
	select {
	case f.refresh <- struct{}{}:
	default:
	}
}

// Run fetches immediately and then on every tick or Refresh until ctx is
// done. Fetch errors are logged and do not stop the loop.
func (f *Fetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	f.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx)
		case <-f.refresh:
			f.poll(ctx)
			ticker.Reset(f.cfg.Interval)
		}
	}
}

func (f *Fetcher) poll(ctx context.Context) {
	if _, err := f.FetchOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("snapshot fetch failed; keeping last known state", zap.Error(err))
	}
}
