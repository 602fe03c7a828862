// Package memory provides in-process persistence for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/ingest-progress/internal/store"
)

// ProgressStore is an in-memory store.ProgressRepository.
type ProgressStore struct {
	mu        sync.RWMutex
	summaries map[string]store.JobSummary
	tables    map[string]map[string]store.TableProgress
	order     map[string][]string
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore constructs an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		summaries: make(map[string]store.JobSummary),
		tables:    make(map[string]map[string]store.TableProgress),
		order:     make(map[string][]string),
	}
}

// UpsertTableProgress stores rec. A terminal row keeps its status, rows,
// percentage and error; only its CDC count and timestamp advance.
func (s *ProgressStore) UpsertTableProgress(_ context.Context, rec store.TableProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[rec.JobID]
	if !ok {
		rows = make(map[string]store.TableProgress)
		s.tables[rec.JobID] = rows
	}
	existing, ok := rows[rec.Table]
	if !ok {
		s.order[rec.JobID] = append(s.order[rec.JobID], rec.Table)
	} else if store.IsTerminal(existing.Status) {
		existing.CDCRows = rec.CDCRows
		existing.UpdatedAt = rec.UpdatedAt
		rows[rec.Table] = existing
		return nil
	}
	rows[rec.Table] = copyTable(rec)
	return nil
}

// UpsertJobSummary replaces the rollup for sum.JobID.
func (s *ProgressStore) UpsertJobSummary(_ context.Context, sum store.JobSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sum.JobID] = sum
	return nil
}

// GetJobSummary fetches a rollup by job ID.
func (s *ProgressStore) GetJobSummary(_ context.Context, jobID string) (store.JobSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[jobID]
	if !ok {
		return store.JobSummary{}, store.ErrNotFound
	}
	return sum, nil
}

// ListJobSummaries returns rollups ordered by UpdatedAt descending, then job ID.
func (s *ProgressStore) ListJobSummaries(_ context.Context, limit, offset int) ([]store.JobSummary, error) {
	s.mu.RLock()
	out := make([]store.JobSummary, 0, len(s.summaries))
	for _, sum := range s.summaries {
		out = append(out, sum)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].JobID < out[j].JobID
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []store.JobSummary{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListTableProgress returns a job's rows in first-write order.
func (s *ProgressStore) ListTableProgress(_ context.Context, jobID string) ([]store.TableProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := s.order[jobID]
	out := make([]store.TableProgress, 0, len(names))
	for _, name := range names {
		out = append(out, copyTable(s.tables[jobID][name]))
	}
	return out, nil
}

func copyTable(rec store.TableProgress) store.TableProgress {
	out := rec
	if rec.TotalRows != nil {
		v := *rec.TotalRows
		out.TotalRows = &v
	}
	if rec.ErrorMessage != nil {
		v := *rec.ErrorMessage
		out.ErrorMessage = &v
	}
	return out
}
