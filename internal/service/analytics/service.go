package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
)

const (
	DefaultWindowDays     = 30
	DefaultTimelineHours  = 24
	MaxWindowDays         = 90
	MaxTimelineHours      = 168
	MaxErrorRows          = 50
	MaxRecentExecutions   = 50
	MaxLastExecuted       = 10
	MaxCurrentExecutions  = 50
	defaultQueryTimeout   = 15 * time.Second
	defaultDashboardLimit = 4
)

// LongRunningThreshold is the elapsed time after which an in-flight run is flagged.
const LongRunningThreshold = 1800 * time.Second

var reportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "etlwatch",
	Subsystem: "analytics",
	Name:      "report_duration_seconds",
	Help:      "Time spent building a report, including store queries",
	Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
}, []string{"report", "outcome"})

// Scope selects the data source and business unit a report reads. Both are
// optional: an empty Source is the default source and an empty Unit is no filter.
type Scope struct {
	Source string
	Unit   string
}

func (s Scope) filter() domain.UnitFilter {
	return domain.FilterFor(s.Unit)
}

// Options tunes a Service.
type Options struct {
	QueryTimeout         time.Duration
	Location             *time.Location
	DashboardParallelism int
}

// Service computes execution reports on demand. It holds no per-request state
// and is safe for concurrent use.
type Service struct {
	sources      repository.SourceResolver
	logger       *slog.Logger
	queryTimeout time.Duration
	location     *time.Location
	parallelism  int
	now          func() time.Time
}

// New constructs a Service.
func New(sources repository.SourceResolver, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DashboardParallelism <= 0 {
		opts.DashboardParallelism = defaultDashboardLimit
	}
	return &Service{
		sources:      sources,
		logger:       logger.With("component", "analytics"),
		queryTimeout: opts.QueryTimeout,
		location:     opts.Location,
		parallelism:  opts.DashboardParallelism,
		now:          time.Now,
	}
}

// withStore resolves the scope's source and runs fn under the query timeout.
// Every error it returns wraps ErrDataSourceUnavailable or ErrQueryFailed.
func (s *Service) withStore(ctx context.Context, report string, scope Scope, fn func(context.Context, repository.ExecutionRepository) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	repo, err := s.sources.Resolve(ctx, scope.Source)
	if err == nil {
		err = fn(ctx, repo)
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", report, normalize(err))
		reportDuration.WithLabelValues(report, "error").Observe(time.Since(start).Seconds())
		s.logger.Error("report failed", "report", report, "unit", scope.Unit, "source", scope.Source, "error", err)
		return err
	}
	reportDuration.WithLabelValues(report, "ok").Observe(time.Since(start).Seconds())
	return nil
}

func normalize(err error) error {
	if errors.Is(err, repository.ErrDataSourceUnavailable) || errors.Is(err, repository.ErrQueryFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", repository.ErrQueryFailed, err)
}

// daysSince returns the window start for a trailing number of days. ok is
// false when the window is empty.
func (s *Service) daysSince(now time.Time, days int) (time.Time, bool) {
	if days <= 0 {
		return time.Time{}, false
	}
	if days > MaxWindowDays {
		days = MaxWindowDays
	}
	return now.AddDate(0, 0, -days), true
}

func (s *Service) hoursSince(now time.Time, hours int) (time.Time, bool) {
	if hours <= 0 {
		return time.Time{}, false
	}
	if hours > MaxTimelineHours {
		hours = MaxTimelineHours
	}
	return now.Add(-time.Duration(hours) * time.Hour), true
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

func textOrNA(text *string) string {
	if text == nil || strings.TrimSpace(*text) == "" {
		return domain.NotAvailable
	}
	return *text
}
