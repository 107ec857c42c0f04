package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
	"github.com/splax/etlwatch/internal/service/analytics"
	"github.com/splax/etlwatch/internal/service/source"
)

type reportCall struct {
	report string
	scope  analytics.Scope
	days   int
	hours  int
	count  int
}

type reportStub struct {
	mu      sync.Mutex
	calls   []reportCall
	err     error
	metrics domain.ExecutionMetrics
	board   analytics.Dashboard
}

func (s *reportStub) record(call reportCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *reportStub) last() reportCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return reportCall{}
	}
	return s.calls[len(s.calls)-1]
}

func (s *reportStub) Metrics(ctx context.Context, scope analytics.Scope, days int) (domain.ExecutionMetrics, error) {
	s.record(reportCall{report: "metrics", scope: scope, days: days})
	return s.metrics, s.err
}

func (s *reportStub) Trends(ctx context.Context, scope analytics.Scope, days int) ([]domain.ExecutionTrend, error) {
	s.record(reportCall{report: "trends", scope: scope, days: days})
	return []domain.ExecutionTrend{}, s.err
}

func (s *reportStub) RecentErrors(ctx context.Context, scope analytics.Scope, days, limit int) ([]domain.ErrorLog, error) {
	s.record(reportCall{report: "errors", scope: scope, days: days, count: limit})
	return []domain.ErrorLog{}, s.err
}

func (s *reportStub) RecentExecutions(ctx context.Context, scope analytics.Scope, days, limit int) ([]domain.ExecutionSummary, error) {
	s.record(reportCall{report: "executions", scope: scope, days: days, count: limit})
	return []domain.ExecutionSummary{}, s.err
}

func (s *reportStub) LastExecuted(ctx context.Context, scope analytics.Scope, count int) ([]domain.ExecutionSummary, error) {
	s.record(reportCall{report: "last_executed", scope: scope, count: count})
	return []domain.ExecutionSummary{}, s.err
}

func (s *reportStub) CurrentExecutions(ctx context.Context, scope analytics.Scope) ([]domain.CurrentExecution, error) {
	s.record(reportCall{report: "current", scope: scope})
	return []domain.CurrentExecution{}, s.err
}

func (s *reportStub) Performance(ctx context.Context, scope analytics.Scope, days int) ([]domain.PackagePerformance, error) {
	s.record(reportCall{report: "performance", scope: scope, days: days})
	return []domain.PackagePerformance{}, s.err
}

func (s *reportStub) FailurePatterns(ctx context.Context, scope analytics.Scope, days int) ([]domain.FailurePattern, error) {
	s.record(reportCall{report: "failures", scope: scope, days: days})
	return []domain.FailurePattern{}, s.err
}

func (s *reportStub) Timeline(ctx context.Context, scope analytics.Scope, hours int) ([]domain.TimelineEntry, error) {
	s.record(reportCall{report: "timeline", scope: scope, hours: hours})
	return []domain.TimelineEntry{}, s.err
}

func (s *reportStub) Dashboard(ctx context.Context, scope analytics.Scope) analytics.Dashboard {
	s.record(reportCall{report: "dashboard", scope: scope})
	return s.board
}

type sourceStub struct {
	names []string
	err   error
	input source.TestInput
}

func (s *sourceStub) List() []string { return s.names }

func (s *sourceStub) Test(ctx context.Context, input source.TestInput) error {
	s.input = input
	return s.err
}

func newTestRouter(t *testing.T, reports ReportService, sources SourceService, rateLimit int, health func(context.Context) error) *Router {
	t.Helper()
	if sources == nil {
		sources = &sourceStub{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(logger, reports, sources, newMemoryRateLimiter(time.Now), rateLimit, health)
	t.Cleanup(r.Close)
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestReportRoutesPassParameters(t *testing.T) {
	reports := &reportStub{metrics: domain.ExecutionMetrics{TotalExecutions: 10, SuccessfulExecutions: 6, FailedExecutions: 4, SuccessRate: 60}}
	router := newTestRouter(t, reports, nil, 0, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics?days=7&unit=ClientRepo&source=replica", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	call := reports.last()
	if call.report != "metrics" || call.days != 7 || call.scope.Unit != "ClientRepo" || call.scope.Source != "replica" {
		t.Fatalf("unexpected call: %+v", call)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["success_rate"] != 60.0 || body["total_executions"] != 10.0 {
		t.Fatalf("unexpected body: %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestReportRoutesUseDefaults(t *testing.T) {
	cases := []struct {
		path string
		want reportCall
	}{
		{"/api/trends", reportCall{report: "trends", days: analytics.DefaultWindowDays}},
		{"/api/errors?count=5", reportCall{report: "errors", days: analytics.DefaultWindowDays, count: 5}},
		{"/api/executions", reportCall{report: "executions", days: analytics.DefaultWindowDays}},
		{"/api/executions/last?count=3", reportCall{report: "last_executed", count: 3}},
		{"/api/executions/current", reportCall{report: "current"}},
		{"/api/performance?days=14", reportCall{report: "performance", days: 14}},
		{"/api/failures", reportCall{report: "failures", days: analytics.DefaultWindowDays}},
		{"/api/timeline?hours=6", reportCall{report: "timeline", hours: 6}},
		{"/api/timeline", reportCall{report: "timeline", hours: analytics.DefaultTimelineHours}},
	}
	for _, tc := range cases {
		reports := &reportStub{}
		router := newTestRouter(t, reports, nil, 0, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.path, rec.Code)
		}
		if got := reports.last(); got != tc.want {
			t.Fatalf("%s: expected call %+v, got %+v", tc.path, tc.want, got)
		}
		if strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Fatalf("%s: expected empty JSON array, got %s", tc.path, rec.Body.String())
		}
	}
}

func TestReportRoutesRejectBadInput(t *testing.T) {
	router := newTestRouter(t, &reportStub{}, nil, 0, nil)

	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/metrics?days=abc", http.StatusBadRequest},
		{http.MethodGet, "/api/timeline?hours=1.5", http.StatusBadRequest},
		{http.MethodGet, "/api/executions/last?count=x", http.StatusBadRequest},
		{http.MethodPost, "/api/metrics", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/sources/test", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
		{http.MethodGet, "/", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rec.Code)
		}
		var body map[string]string
		decodeBody(t, rec, &body)
		if body["error"] == "" {
			t.Fatalf("%s %s: expected error message, got %v", tc.method, tc.path, body)
		}
	}
}

func TestReportErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("metrics: %w", repository.ErrDataSourceUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("metrics: %w: boom", repository.ErrQueryFailed), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := newTestRouter(t, &reportStub{err: tc.err}, nil, 0, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
		if rec.Code != tc.status {
			t.Fatalf("expected %d for %v, got %d", tc.status, tc.err, rec.Code)
		}
	}
}

func TestDashboardReportsPartialFailures(t *testing.T) {
	reports := &reportStub{board: analytics.Dashboard{
		Unit:    "HIM",
		Metrics: domain.ExecutionMetrics{TotalExecutions: 3},
		Errors:  map[string]string{"performance": "performance: repository: query failed"},
	}}
	router := newTestRouter(t, reports, nil, 0, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard?unit=HIM", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Unit    string                  `json:"unit"`
		Metrics domain.ExecutionMetrics `json:"metrics"`
		Errors  map[string]string       `json:"errors"`
	}
	decodeBody(t, rec, &body)
	if body.Unit != "HIM" || body.Metrics.TotalExecutions != 3 || body.Errors["performance"] == "" {
		t.Fatalf("unexpected dashboard body: %+v", body)
	}
}

func TestBusinessUnitsRoute(t *testing.T) {
	router := newTestRouter(t, &reportStub{}, nil, 0, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/business-units", nil))

	var units []string
	decodeBody(t, rec, &units)
	want := []string{"ClientRepo", "ChartNav", "EDS", "HIM", "Uncategorized"}
	if strings.Join(units, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected units: %v", units)
	}
}

func TestSourceRoutes(t *testing.T) {
	sources := &sourceStub{names: []string{"default", "replica"}}
	router := newTestRouter(t, &reportStub{}, sources, 0, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sources", nil))
	var listed struct {
		Sources []string `json:"sources"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Sources) != 2 {
		t.Fatalf("unexpected sources: %v", listed.Sources)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sources/test", strings.NewReader(`{"source":"replica"}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("expected ok, got %d %s", rec.Code, rec.Body.String())
	}
	if sources.input.Source != "replica" {
		t.Fatalf("expected source to be forwarded, got %+v", sources.input)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sources/test", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", rec.Code)
	}

	sources.err = fmt.Errorf("%w: host is required", source.ErrInvalidServer)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sources/test", strings.NewReader(`{"server":{"port":5432}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid server, got %d", rec.Code)
	}

	sources.err = fmt.Errorf("connect: %w: refused", repository.ErrDataSourceUnavailable)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sources/test", strings.NewReader(`{"dsn":"postgres://x"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unreachable source, got %d", rec.Code)
	}

	sources.err = source.ErrAdhocDisabled
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sources/test", strings.NewReader(`{"dsn":"postgres://10.0.0.5:22"}`)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled ad hoc test, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	healthy := newTestRouter(t, &reportStub{}, nil, 0, func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	degraded := newTestRouter(t, &reportStub{}, nil, 0, func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "degraded" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	router := newTestRouter(t, &reportStub{}, nil, 0, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/business-units", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestReportRoutesAreRateLimited(t *testing.T) {
	router := newTestRouter(t, &reportStub{}, nil, 2, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence: %v", codes)
	}

	// Other routes and other clients keep their own budget.
	req := httptest.NewRequest(http.MethodGet, "/api/trends", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected separate budget per route, got %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected separate budget per client, got %d", rec.Code)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(func() time.Time { return now })
	defer rl.Close()
	ctx := context.Background()

	if !rl.Allow(ctx, "k", 1, time.Minute).allowed {
		t.Fatal("expected first request to be allowed")
	}
	if d := rl.Allow(ctx, "k", 1, time.Minute); d.allowed || d.count != 1 {
		t.Fatalf("expected second request to be rejected, got %+v", d)
	}
	now = now.Add(time.Minute)
	if !rl.Allow(ctx, "k", 1, time.Minute).allowed {
		t.Fatal("expected a new window to allow the request")
	}
	rl.cleanup(now.Add(2 * time.Minute))
	if len(rl.entries) != 0 {
		t.Fatalf("expected expired entries to be swept, got %d", len(rl.entries))
	}
}
