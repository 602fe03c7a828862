package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/channel"
	"github.com/JakeFAU/ingest-progress/internal/metrics"
	"github.com/JakeFAU/ingest-progress/internal/progress"
	"github.com/JakeFAU/ingest-progress/internal/store"
)

const requestTimeout = 30 * time.Second

// LiveView is the subset of the progress store the API reads from.
type LiveView interface {
	Jobs() []progress.JobView
	Job(jobID string) (progress.JobView, bool)
}

// StateReporter reports the event channel connection state.
type StateReporter interface {
	State() channel.State
}

// Server wires HTTP handlers to the live store and the history repository.
type Server struct {
	router  chi.Router
	live    LiveView
	channel StateReporter
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. repo may be nil,
// in which case the history routes answer 503.
func NewServer(live LiveView, state StateReporter, repo store.ProgressRepository, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		live:    live,
		channel: state,
		logger:  logger,
	}
	history := NewHistoryHandler(repo, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/progress/jobs", func(r chi.Router) {
			r.Get("/", s.listLiveJobs)
			r.Get("/{job_id}", s.getLiveJob)
		})
		r.Route("/history/jobs", func(r chi.Router) {
			r.Get("/", history.ListJobs)
			r.Get("/{job_id}", history.GetJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz answers 200 only while the event channel is connected. Snapshot
// polling keeps the view converging otherwise, so the body still carries the
// channel state for operators.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.channel == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	state := s.channel.State()
	if state != channel.StateConnected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "degraded",
			"channel": state.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"channel": state.String(),
	})
}

func (s *Server) listLiveJobs(w http.ResponseWriter, _ *http.Request) {
	if s.live == nil {
		writeError(w, http.StatusServiceUnavailable, "progress store unavailable")
		return
	}
	views := s.live.Jobs()
	out := make([]liveJobDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toLiveJobDTO(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) getLiveJob(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeError(w, http.StatusServiceUnavailable, "progress store unavailable")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, ok := s.live.Job(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	tables := view.Tables
	if tables == nil {
		tables = []progress.TableProgress{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":     toLiveJobDTO(view),
		"tables":  tables,
		"summary": view.Summary,
	})
}

type liveJobDTO struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	StartTime time.Time        `json:"start_time"`
	EndTime   *time.Time       `json:"end_time,omitempty"`
	Error     string           `json:"error,omitempty"`
	Summary   progress.Summary `json:"summary"`
}

func toLiveJobDTO(v progress.JobView) liveJobDTO {
	return liveJobDTO{
		ID:        v.Job.ID,
		Status:    string(v.Job.Status),
		StartTime: v.Job.StartTime,
		EndTime:   v.Job.EndTime,
		Error:     v.Job.Error,
		Summary:   v.Summary,
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
