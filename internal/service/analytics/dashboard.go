package analytics

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/splax/etlwatch/internal/domain"
)

// Dashboard is every report for one scope. A report that failed is left
// empty and its error message is recorded under the report name in Errors.
type Dashboard struct {
	Unit              string                      `json:"unit,omitempty"`
	Metrics           domain.ExecutionMetrics     `json:"metrics"`
	Trends            []domain.ExecutionTrend     `json:"trends"`
	RecentErrors      []domain.ErrorLog           `json:"recent_errors"`
	RecentExecutions  []domain.ExecutionSummary   `json:"recent_executions"`
	LastExecuted      []domain.ExecutionSummary   `json:"last_executed"`
	CurrentExecutions []domain.CurrentExecution   `json:"current_executions"`
	Performance       []domain.PackagePerformance `json:"performance"`
	FailurePatterns   []domain.FailurePattern     `json:"failure_patterns"`
	Timeline          []domain.TimelineEntry      `json:"timeline"`
	Errors            map[string]string           `json:"errors,omitempty"`
}

// Dashboard builds every report concurrently with default windows. Reports
// are independent: one failing does not cancel or alter the others.
func (s *Service) Dashboard(ctx context.Context, scope Scope) Dashboard {
	board := Dashboard{Unit: scope.Unit}
	var mu sync.Mutex
	record := func(report string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if board.Errors == nil {
			board.Errors = make(map[string]string)
		}
		board.Errors[report] = err.Error()
	}

	// Goroutines always return nil so no report cancels its siblings.
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	g.Go(func() error {
		metrics, err := s.Metrics(ctx, scope, DefaultWindowDays)
		board.Metrics = metrics
		record("metrics", err)
		return nil
	})
	g.Go(func() error {
		trends, err := s.Trends(ctx, scope, DefaultWindowDays)
		board.Trends = trends
		record("trends", err)
		return nil
	})
	g.Go(func() error {
		errs, err := s.RecentErrors(ctx, scope, DefaultWindowDays, MaxErrorRows)
		board.RecentErrors = errs
		record("errors", err)
		return nil
	})
	g.Go(func() error {
		recent, err := s.RecentExecutions(ctx, scope, DefaultWindowDays, MaxRecentExecutions)
		board.RecentExecutions = recent
		record("executions", err)
		return nil
	})
	g.Go(func() error {
		last, err := s.LastExecuted(ctx, scope, MaxLastExecuted)
		board.LastExecuted = last
		record("last_executed", err)
		return nil
	})
	g.Go(func() error {
		current, err := s.CurrentExecutions(ctx, scope)
		board.CurrentExecutions = current
		record("current", err)
		return nil
	})
	g.Go(func() error {
		perf, err := s.Performance(ctx, scope, DefaultWindowDays)
		board.Performance = perf
		record("performance", err)
		return nil
	})
	g.Go(func() error {
		patterns, err := s.FailurePatterns(ctx, scope, DefaultWindowDays)
		board.FailurePatterns = patterns
		record("failures", err)
		return nil
	})
	g.Go(func() error {
		timeline, err := s.Timeline(ctx, scope, DefaultTimelineHours)
		board.Timeline = timeline
		record("timeline", err)
		return nil
	})
	_ = g.Wait()
	return board
}
