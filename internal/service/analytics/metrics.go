package analytics

import (
	"context"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
)

// Metrics rolls up run totals, success rate and average duration over the
// trailing window of days.
func (s *Service) Metrics(ctx context.Context, scope Scope, days int) (domain.ExecutionMetrics, error) {
	var metrics domain.ExecutionMetrics
	since, ok := s.daysSince(s.now(), days)
	if !ok {
		return metrics, nil
	}
	err := s.withStore(ctx, "metrics", scope, func(ctx context.Context, repo repository.ExecutionRepository) error {
		runs, err := repo.ListRuns(ctx, repository.RunQuery{Since: since, Filter: scope.filter()})
		if err != nil {
			return err
		}
		var bucket runBucket
		for _, run := range runs {
			bucket.add(run)
		}
		metrics = domain.ExecutionMetrics{
			TotalExecutions:      bucket.total,
			SuccessfulExecutions: bucket.succeeded,
			FailedExecutions:     bucket.failed,
			SuccessRate:          bucket.successRate(),
			AvgDurationSeconds:   bucket.avgDuration(),
		}
		return nil
	})
	if err != nil {
		return domain.ExecutionMetrics{}, err
	}
	return metrics, nil
}

// Trends returns one entry per calendar date with runs in the window, most
// recent date first. Dates follow the service's report location.
func (s *Service) Trends(ctx context.Context, scope Scope, days int) ([]domain.ExecutionTrend, error) {
	trends := make([]domain.ExecutionTrend, 0)
	since, ok := s.daysSince(s.now(), days)
	if !ok {
		return trends, nil
	}
	err := s.withStore(ctx, "trends", scope, func(ctx context.Context, repo repository.ExecutionRepository) error {
		runs, err := repo.ListRuns(ctx, repository.RunQuery{Since: since, Filter: scope.filter()})
		if err != nil {
			return err
		}
		byDate := groupRuns(runs, func(run domain.PipelineRun) string {
			return run.StartTime.In(s.location).Format("2006-01-02")
		})
		// Keys are ISO dates, so reverse key order is newest first.
		for _, bucket := range byDate.sorted(func(a, b *runBucket) bool { return a.key > b.key }) {
			trends = append(trends, domain.ExecutionTrend{
				Date:               bucket.key,
				Succeeded:          bucket.succeeded,
				Failed:             bucket.failed,
				AvgDurationSeconds: bucket.avgDuration(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trends, nil
}
