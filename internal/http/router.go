package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
	"github.com/splax/etlwatch/internal/service/analytics"
	"github.com/splax/etlwatch/internal/service/source"
)

// ReportService computes the execution reports served under /api.
type ReportService interface {
	Metrics(ctx context.Context, scope analytics.Scope, days int) (domain.ExecutionMetrics, error)
	Trends(ctx context.Context, scope analytics.Scope, days int) ([]domain.ExecutionTrend, error)
	RecentErrors(ctx context.Context, scope analytics.Scope, days, limit int) ([]domain.ErrorLog, error)
	RecentExecutions(ctx context.Context, scope analytics.Scope, days, limit int) ([]domain.ExecutionSummary, error)
	LastExecuted(ctx context.Context, scope analytics.Scope, count int) ([]domain.ExecutionSummary, error)
	CurrentExecutions(ctx context.Context, scope analytics.Scope) ([]domain.CurrentExecution, error)
	Performance(ctx context.Context, scope analytics.Scope, days int) ([]domain.PackagePerformance, error)
	FailurePatterns(ctx context.Context, scope analytics.Scope, days int) ([]domain.FailurePattern, error)
	Timeline(ctx context.Context, scope analytics.Scope, hours int) ([]domain.TimelineEntry, error)
	Dashboard(ctx context.Context, scope analytics.Scope) analytics.Dashboard
}

// SourceService lists and tests catalog data sources.
type SourceService interface {
	List() []string
	Test(ctx context.Context, input source.TestInput) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	reports   ReportService
	sources   SourceService
	limiter   RateLimiter
	rateLimit int
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitProbe     = 10
	healthCheckTimeout = 2 * time.Second
	maxRequestBody     = 64 << 10
)

// NewRouter assembles routes with dependencies. rateLimit is the per-client
// request budget per minute for report routes; zero disables limiting.
func NewRouter(logger *slog.Logger, reports ReportService, sources SourceService, limiter RateLimiter, rateLimit int, dbHealth func(context.Context) error) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		reports:   reports,
		sources:   sources,
		limiter:   limiter,
		rateLimit: rateLimit,
		dbHealth:  dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.handle("/healthz", r.handleHealthz)
	r.mux.Handle("/metrics", promhttp.Handler())
	r.handle("/api/business-units", r.handleBusinessUnits)
	r.handle("/api/sources", r.limited("/api/sources", r.rateLimit, r.handleSources))
	r.handle("/api/sources/test", r.limited("/api/sources/test", rateLimitProbe, r.handleSourceTest))
	r.handle("/api/metrics", r.limited("/api/metrics", r.rateLimit, r.handleMetrics))
	r.handle("/api/trends", r.limited("/api/trends", r.rateLimit, r.handleTrends))
	r.handle("/api/errors", r.limited("/api/errors", r.rateLimit, r.handleErrors))
	r.handle("/api/executions", r.limited("/api/executions", r.rateLimit, r.handleExecutions))
	r.handle("/api/executions/last", r.limited("/api/executions/last", r.rateLimit, r.handleLastExecuted))
	r.handle("/api/executions/current", r.limited("/api/executions/current", r.rateLimit, r.handleCurrent))
	r.handle("/api/performance", r.limited("/api/performance", r.rateLimit, r.handlePerformance))
	r.handle("/api/failures", r.limited("/api/failures", r.rateLimit, r.handleFailures))
	r.handle("/api/timeline", r.limited("/api/timeline", r.rateLimit, r.handleTimeline))
	r.handle("/api/dashboard", r.limited("/api/dashboard", r.rateLimit, r.handleDashboard))
	r.handle("/", func(w http.ResponseWriter, req *http.Request) { r.notFound(w) })
}

func (r *Router) handle(pattern string, next http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(pattern, next))
}

func (r *Router) limited(route string, limit int, next http.HandlerFunc) http.HandlerFunc {
	return r.withRateLimit(route, limit, rateWindowDefault, rateLimitKeyIP, next)
}

// reportParams carries the parsed query parameters shared by report routes.
type reportParams struct {
	scope analytics.Scope
	days  int
	hours int
	count int
}

func parseReportParams(req *http.Request) (reportParams, error) {
	q := req.URL.Query()
	params := reportParams{
		scope: analytics.Scope{
			Source: strings.TrimSpace(q.Get("source")),
			Unit:   strings.TrimSpace(q.Get("unit")),
		},
	}
	var err error
	if params.days, err = intParam(q.Get("days"), analytics.DefaultWindowDays); err != nil {
		return params, errors.New("days must be an integer")
	}
	if params.hours, err = intParam(q.Get("hours"), analytics.DefaultTimelineHours); err != nil {
		return params, errors.New("hours must be an integer")
	}
	if params.count, err = intParam(q.Get("count"), 0); err != nil {
		return params, errors.New("count must be an integer")
	}
	return params, nil
}

func intParam(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// serveReport runs a GET report handler with parsed parameters.
func (r *Router) serveReport(w http.ResponseWriter, req *http.Request, build func(context.Context, reportParams) (any, error)) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	params, err := parseReportParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload, err := build(req.Context(), params)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.Metrics(ctx, p.scope, p.days)
	})
}

func (r *Router) handleTrends(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.Trends(ctx, p.scope, p.days)
	})
}

func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.RecentErrors(ctx, p.scope, p.days, p.count)
	})
}

func (r *Router) handleExecutions(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.RecentExecutions(ctx, p.scope, p.days, p.count)
	})
}

func (r *Router) handleLastExecuted(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.LastExecuted(ctx, p.scope, p.count)
	})
}

func (r *Router) handleCurrent(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.CurrentExecutions(ctx, p.scope)
	})
}

func (r *Router) handlePerformance(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.Performance(ctx, p.scope, p.days)
	})
}

func (r *Router) handleFailures(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.FailurePatterns(ctx, p.scope, p.days)
	})
}

func (r *Router) handleTimeline(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.Timeline(ctx, p.scope, p.hours)
	})
}

// handleDashboard always answers 200; failed reports are listed in the body.
func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, func(ctx context.Context, p reportParams) (any, error) {
		return r.reports.Dashboard(ctx, p.scope), nil
	})
}

func (r *Router) handleBusinessUnits(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, domain.Units())
}

func (r *Router) handleSources(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": r.sources.List()})
}

func (r *Router) handleSourceTest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload source.TestInput
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.sources.Test(req.Context(), payload); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	code := http.StatusOK
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			components["catalog"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		} else {
			components["catalog"] = map[string]any{"status": "ok"}
		}
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}

// writeServiceError maps service error kinds onto HTTP status codes.
func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, source.ErrInvalidServer):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrDataSourceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, source.ErrAdhocDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
			req.Header.Set("X-Request-ID", reqID)
		}
		w.Header().Set("X-Request-ID", reqID)

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if src := strings.TrimSpace(req.URL.Query().Get("source")); src != "" {
			fields = append(fields, "source", src)
		}
		fields = append(fields, "actor", "anonymous")

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
