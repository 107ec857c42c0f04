package analytics

import (
	"context"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
)

// Performance returns per-pipeline statistics for the window, busiest first.
//
// LastExecutionStatus is read from the newest run of each pipeline across all
// time, not only the window, so a pipeline can report a last outcome that
// none of its windowed figures reflect.
func (s *Service) Performance(ctx context.Context, scope Scope, days int) ([]domain.PackagePerformance, error) {
	stats := make([]domain.PackagePerformance, 0)
	since, ok := s.daysSince(s.now(), days)
	if !ok {
		return stats, nil
	}
	err := s.withStore(ctx, "performance", scope, func(ctx context.Context, repo repository.ExecutionRepository) error {
		runs, err := repo.ListRuns(ctx, repository.RunQuery{Since: since, Filter: scope.filter()})
		if err != nil {
			return err
		}
		byName := groupRuns(runs, pipelineKey)
		if len(byName.order) == 0 {
			return nil
		}
		latest, err := repo.LatestRunStatus(ctx, byName.order)
		if err != nil {
			return err
		}
		for _, bucket := range byName.sorted(func(a, b *runBucket) bool { return a.total > b.total }) {
			lastStart := bucket.lastStart
			stats = append(stats, domain.PackagePerformance{
				PipelineName:         bucket.key,
				TotalExecutions:      bucket.total,
				SuccessfulExecutions: bucket.succeeded,
				FailedExecutions:     bucket.failed,
				SuccessRate:          bucket.successRate(),
				AvgDurationSeconds:   bucket.avgDuration(),
				MinDurationSeconds:   bucket.durationMin,
				MaxDurationSeconds:   bucket.durationMax,
				LastExecutionTime:    &lastStart,
				LastExecutionStatus:  outcomeOf(latest, bucket.key),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// FailurePatterns returns pipelines with at least one failed run in the
// window, most failures first. A pipeline without any recorded error message
// reports N/A rather than failing the report.
func (s *Service) FailurePatterns(ctx context.Context, scope Scope, days int) ([]domain.FailurePattern, error) {
	patterns := make([]domain.FailurePattern, 0)
	since, ok := s.daysSince(s.now(), days)
	if !ok {
		return patterns, nil
	}
	err := s.withStore(ctx, "failures", scope, func(ctx context.Context, repo repository.ExecutionRepository) error {
		filter := scope.filter()
		runs, err := repo.ListRuns(ctx, repository.RunQuery{Since: since, Filter: filter})
		if err != nil {
			return err
		}
		byName := groupRuns(runs, pipelineKey)
		failing := byName.sorted(func(a, b *runBucket) bool { return a.failed > b.failed })
		if len(failing) == 0 || failing[0].failed == 0 {
			return nil
		}
		latestErrors, err := repo.LatestErrorByPipeline(ctx, repository.MessageQuery{
			Since:     since,
			Filter:    filter,
			RunStatus: domain.StatusFailed,
		})
		if err != nil {
			return err
		}
		for _, bucket := range failing {
			if bucket.failed == 0 {
				break
			}
			representative := domain.NotAvailable
			if msg, ok := latestErrors[bucket.key]; ok {
				representative = textOrNA(msg.Text)
			}
			patterns = append(patterns, domain.FailurePattern{
				PipelineName:        bucket.key,
				FailureCount:        bucket.failed,
				RepresentativeError: representative,
				LastFailureTime:     bucket.lastFailure,
				FailureRate:         bucket.failureRate(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

func pipelineKey(run domain.PipelineRun) string {
	return run.PipelineName
}

func outcomeOf(latest map[string]int, name string) string {
	status, ok := latest[name]
	if !ok {
		return domain.OutcomeUnknown
	}
	if status == domain.StatusSucceeded {
		return domain.OutcomeSuccess
	}
	return domain.OutcomeFailed
}
