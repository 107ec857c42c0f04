package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/service/analytics"
	"github.com/splax/etlwatch/internal/service/source"
)

// Client provides typed access to the etlwatch API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Query selects the scope and window of a report. Zero fields are omitted
// so the server applies its defaults.
type Query struct {
	Unit   string
	Source string
	Days   int
	Hours  int
	Count  int
}

func (q Query) values() url.Values {
	v := url.Values{}
	if s := strings.TrimSpace(q.Unit); s != "" {
		v.Set("unit", s)
	}
	if s := strings.TrimSpace(q.Source); s != "" {
		v.Set("source", s)
	}
	if q.Days != 0 {
		v.Set("days", strconv.Itoa(q.Days))
	}
	if q.Hours != 0 {
		v.Set("hours", strconv.Itoa(q.Hours))
	}
	if q.Count != 0 {
		v.Set("count", strconv.Itoa(q.Count))
	}
	return v
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, q Query, v any) error {
	return c.do(ctx, http.MethodGet, path, q.values(), nil, v)
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// BusinessUnits lists the unit tags accepted by every report.
func (c *Client) BusinessUnits(ctx context.Context) ([]string, error) {
	var units []string
	err := c.get(ctx, "/api/business-units", Query{}, &units)
	return units, err
}

// Sources lists the configured catalog sources.
func (c *Client) Sources(ctx context.Context) ([]string, error) {
	var payload struct {
		Sources []string `json:"sources"`
	}
	err := c.get(ctx, "/api/sources", Query{}, &payload)
	return payload.Sources, err
}

// TestSource asks the API to connect to a source, DSN or server description.
func (c *Client) TestSource(ctx context.Context, input source.TestInput) error {
	return c.do(ctx, http.MethodPost, "/api/sources/test", nil, input, nil)
}

// Metrics fetches the aggregate execution metrics.
func (c *Client) Metrics(ctx context.Context, q Query) (domain.ExecutionMetrics, error) {
	var metrics domain.ExecutionMetrics
	err := c.get(ctx, "/api/metrics", q, &metrics)
	return metrics, err
}

// Trends fetches daily success and failure counts.
func (c *Client) Trends(ctx context.Context, q Query) ([]domain.ExecutionTrend, error) {
	var trends []domain.ExecutionTrend
	err := c.get(ctx, "/api/trends", q, &trends)
	return trends, err
}

// Errors fetches recent error messages; Query.Count caps the rows.
func (c *Client) Errors(ctx context.Context, q Query) ([]domain.ErrorLog, error) {
	var errs []domain.ErrorLog
	err := c.get(ctx, "/api/errors", q, &errs)
	return errs, err
}

// Executions fetches the newest runs in the window.
func (c *Client) Executions(ctx context.Context, q Query) ([]domain.ExecutionSummary, error) {
	var runs []domain.ExecutionSummary
	err := c.get(ctx, "/api/executions", q, &runs)
	return runs, err
}

// LastExecuted fetches the newest runs regardless of window.
func (c *Client) LastExecuted(ctx context.Context, q Query) ([]domain.ExecutionSummary, error) {
	var runs []domain.ExecutionSummary
	err := c.get(ctx, "/api/executions/last", q, &runs)
	return runs, err
}

// Current fetches in-flight runs.
func (c *Client) Current(ctx context.Context, q Query) ([]domain.CurrentExecution, error) {
	var runs []domain.CurrentExecution
	err := c.get(ctx, "/api/executions/current", q, &runs)
	return runs, err
}

// Performance fetches per-pipeline statistics.
func (c *Client) Performance(ctx context.Context, q Query) ([]domain.PackagePerformance, error) {
	var stats []domain.PackagePerformance
	err := c.get(ctx, "/api/performance", q, &stats)
	return stats, err
}

// Failures fetches failure patterns.
func (c *Client) Failures(ctx context.Context, q Query) ([]domain.FailurePattern, error) {
	var patterns []domain.FailurePattern
	err := c.get(ctx, "/api/failures", q, &patterns)
	return patterns, err
}

// Timeline fetches runs started in the trailing hours.
func (c *Client) Timeline(ctx context.Context, q Query) ([]domain.TimelineEntry, error) {
	var entries []domain.TimelineEntry
	err := c.get(ctx, "/api/timeline", q, &entries)
	return entries, err
}

// Dashboard fetches every report at once.
func (c *Client) Dashboard(ctx context.Context, q Query) (analytics.Dashboard, error) {
	var board analytics.Dashboard
	err := c.get(ctx, "/api/dashboard", q, &board)
	return board, err
}
