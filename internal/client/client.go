// Package client is the REST client for the ingestion backend. It fetches job
// snapshots and drives the handful of mutating endpoints the CLI exposes.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when the backend reports 404 for a job.
var ErrNotFound = errors.New("job not found")

const maxErrorBody = 4 << 10

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s failed: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Config controls the transport.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RetryMax is the number of retries after the first attempt.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client talks to the backend REST API.
type Client struct {
	base   *url.URL
	http   *retryablehttp.Client
	logger *zap.Logger
}

// New constructs a Client for cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := retryablehttp.NewClient()
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = nil
	if cfg.RetryMax >= 0 {
		hc.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		hc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		hc.RetryWaitMax = cfg.RetryWaitMax
	}
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{base: base, http: hc, logger: logger.Named("client")}, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ListJobs fetches the full jobs snapshot.
func (c *Client) ListJobs(ctx context.Context) (model.JobsSnapshot, error) {
	var snap model.JobsSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs", nil, nil, &snap); err != nil {
		return model.JobsSnapshot{}, err
	}
	return snap, nil
}

// GetJob fetches a single job. A 404 yields ErrNotFound.
func (c *Client) GetJob(ctx context.Context, id string) (model.Job, error) {
	var body struct {
		Job model.Job `json:"job"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, nil, &body)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return model.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Job{}, err
	}
	return body.Job, nil
}

// Ingest submits a transfer job and returns its ID.
func (c *Client) Ingest(ctx context.Context, req model.IngestRequest) (string, error) {
	if len(req.Tables) == 0 {
		return "", errors.New("at least one table is required")
	}
	var body struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/ingest", nil, req, &body); err != nil {
		return "", err
	}
	if body.JobID == "" {
		return "", errors.New("ingest response carried no job_id")
	}
	return body.JobID, nil
}

// ListTables lists the source tables, optionally on an explicit PostgreSQL URL.
func (c *Client) ListTables(ctx context.Context, pgURL string) ([]string, error) {
	q := url.Values{}
	if pgURL != "" {
		q.Set("pg_url", pgURL)
	}
	var body struct {
		Tables []string `json:"tables"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tables", q, nil, &body); err != nil {
		return nil, err
	}
	return body.Tables, nil
}

// ListColumns lists the columns of table.
func (c *Client) ListColumns(ctx context.Context, table, pgURL string) ([]model.Column, error) {
	if table == "" {
		return nil, errors.New("table is required")
	}
	q := url.Values{}
	q.Set("table", table)
	if pgURL != "" {
		q.Set("pg_url", pgURL)
	}
	var body struct {
		Columns []model.Column `json:"columns"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tables/columns", q, nil, &body); err != nil {
		return nil, err
	}
	return body.Columns, nil
}

// TestConnection probes both databases through the backend.
func (c *Client) TestConnection(ctx context.Context, pgURL, chURL string) (model.ConnectionTestResponse, error) {
	req := struct {
		PgURL string `json:"pg_url,omitempty"`
		ChURL string `json:"ch_url,omitempty"`
	}{PgURL: pgURL, ChURL: chURL}
	var out model.ConnectionTestResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/test-connection", nil, req, &out); err != nil {
		return model.ConnectionTestResponse{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
