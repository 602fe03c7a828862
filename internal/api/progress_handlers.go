package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/store"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	historyTimeout  = 3 * time.Second
)

// HistoryHandler exposes persisted job rollups.
type HistoryHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the repository and logger.
func NewHistoryHandler(repo store.ProgressRepository, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListJobs handles GET /v1/history/jobs?limit=&offset=. It returns a JSON
// object {"jobs": [...]} on success, 400 for invalid paging, 503 when the repo
// is unavailable, or 500 if the repository call fails.
func (h *HistoryHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sums, err := h.repo.ListJobSummaries(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list job summaries failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": toSummaryDTOs(sums),
	})
}

// GetJob handles GET /v1/history/jobs/{job_id}. It returns
// {"summary": {...}, "tables": [...]} on success, 404 when the repository
// reports store.ErrNotFound, 503 if the repo is not initialized, or 500
// otherwise.
func (h *HistoryHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sum, err := h.repo.GetJobSummary(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get job summary failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	tables, err := h.repo.ListTableProgress(ctx, jobID)
	if err != nil {
		h.logger.Error("list table progress failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tables")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": toSummaryDTO(sum),
		"tables":  toTableDTOs(tables),
	})
}

func parseJobID(r *http.Request) (string, error) {
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		return "", errors.New("job_id is required")
	}
	return jobID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toSummaryDTOs(in []store.JobSummary) []summaryDTO {
	out := make([]summaryDTO, 0, len(in))
	for _, s := range in {
		out = append(out, toSummaryDTO(s))
	}
	return out
}

func toSummaryDTO(s store.JobSummary) summaryDTO {
	return summaryDTO{
		JobID:                s.JobID,
		TotalTables:          s.TotalTables,
		CompletedCount:       s.CompletedCount,
		FailedCount:          s.FailedCount,
		InFlightCount:        s.InFlightCount,
		PendingCount:         s.PendingCount,
		OverallPercentage:    s.OverallPercentage,
		TotalRowsTransferred: s.TotalRowsTransferred,
		Done:                 s.Done(),
		UpdatedAt:            s.UpdatedAt,
	}
}

func toTableDTOs(in []store.TableProgress) []tableDTO {
	out := make([]tableDTO, 0, len(in))
	for _, t := range in {
		out = append(out, tableDTO{
			Table:       t.Table,
			Status:      t.Status,
			CurrentRows: t.CurrentRows,
			TotalRows:   t.TotalRows,
			Percentage:  t.Percentage,
			Error:       t.ErrorMessage,
			CDCRows:     t.CDCRows,
			UpdatedAt:   t.UpdatedAt,
		})
	}
	return out
}

type summaryDTO struct {
	JobID                string    `json:"job_id"`
	TotalTables          int       `json:"total_tables"`
	CompletedCount       int       `json:"completed_count"`
	FailedCount          int       `json:"failed_count"`
	InFlightCount        int       `json:"in_flight_count"`
	PendingCount         int       `json:"pending_count"`
	OverallPercentage    float64   `json:"overall_percentage"`
	TotalRowsTransferred int64     `json:"total_rows_transferred"`
	Done                 bool      `json:"done"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type tableDTO struct {
	Table       string    `json:"table"`
	Status      string    `json:"status"`
	CurrentRows int64     `json:"current_rows"`
	TotalRows   *int64    `json:"total_rows,omitempty"`
	Percentage  float64   `json:"percentage"`
	Error       *string   `json:"error,omitempty"`
	CDCRows     int64     `json:"cdc_rows"`
	UpdatedAt   time.Time `json:"updated_at"`
}
