package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/ingest-progress/internal/store"
)

// MockRepository is a mock implementation of store.ProgressRepository for testing.
type MockRepository struct {
	mock.Mock
}

var _ store.ProgressRepository = (*MockRepository)(nil)

// UpsertTableProgress is the mock implementation of the UpsertTableProgress method.
func (m *MockRepository) UpsertTableProgress(ctx context.Context, rec store.TableProgress) error {
	args := m.Called(ctx, rec)
	return args.Error(0) //nolint:wrapcheck
}

// UpsertJobSummary is the mock implementation of the UpsertJobSummary method.
func (m *MockRepository) UpsertJobSummary(ctx context.Context, sum store.JobSummary) error {
	args := m.Called(ctx, sum)
	return args.Error(0) //nolint:wrapcheck
}

// GetJobSummary is the mock implementation of the GetJobSummary method.
func (m *MockRepository) GetJobSummary(ctx context.Context, jobID string) (store.JobSummary, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(store.JobSummary), args.Error(1) //nolint:wrapcheck
}

// ListJobSummaries is the mock implementation of the ListJobSummaries method.
func (m *MockRepository) ListJobSummaries(ctx context.Context, limit, offset int) ([]store.JobSummary, error) {
	args := m.Called(ctx, limit, offset)
	sums, _ := args.Get(0).([]store.JobSummary)
	return sums, args.Error(1) //nolint:wrapcheck
}

// ListTableProgress is the mock implementation of the ListTableProgress method.
func (m *MockRepository) ListTableProgress(ctx context.Context, jobID string) ([]store.TableProgress, error) {
	args := m.Called(ctx, jobID)
	rows, _ := args.Get(0).([]store.TableProgress)
	return rows, args.Error(1) //nolint:wrapcheck
}
