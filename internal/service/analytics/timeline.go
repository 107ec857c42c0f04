package analytics

import (
	"context"
	"time"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
)

// Timeline lists runs started in the trailing hours, newest first. Runs
// without an end time are measured up to now.
func (s *Service) Timeline(ctx context.Context, scope Scope, hours int) ([]domain.TimelineEntry, error) {
	entries := make([]domain.TimelineEntry, 0)
	now := s.now()
	since, ok := s.hoursSince(now, hours)
	if !ok {
		return entries, nil
	}
	err := s.withStore(ctx, "timeline", scope, func(ctx context.Context, repo repository.ExecutionRepository) error {
		runs, err := repo.ListRuns(ctx, repository.RunQuery{Since: since, Filter: scope.filter()})
		if err != nil {
			return err
		}
		for _, run := range runs {
			end := now
			if run.EndTime != nil {
				end = *run.EndTime
			}
			entries = append(entries, domain.TimelineEntry{
				ExecutionID:     run.ID,
				PipelineName:    run.PipelineName,
				StartTime:       run.StartTime,
				EndTime:         run.EndTime,
				DurationMinutes: wholeUnits(end.Sub(run.StartTime), time.Minute),
				Status:          domain.StatusLabel(run.Status),
				StatusColor:     domain.StatusColorOf(run.Status),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CurrentExecutions lists runs that have not reached a terminal status,
// newest first.
func (s *Service) CurrentExecutions(ctx context.Context, scope Scope) ([]domain.CurrentExecution, error) {
	current := make([]domain.CurrentExecution, 0)
	now := s.now()
	err := s.withStore(ctx, "current", scope, func(ctx context.Context, repo repository.ExecutionRepository) error {
		runs, err := repo.ListRuns(ctx, repository.RunQuery{
			Filter:   scope.filter(),
			Statuses: domain.InFlightStatuses,
			Limit:    MaxCurrentExecutions,
		})
		if err != nil {
			return err
		}
		for _, run := range runs {
			if len(current) == MaxCurrentExecutions {
				break
			}
			elapsed := wholeUnits(now.Sub(run.StartTime), time.Second)
			current = append(current, domain.CurrentExecution{
				ExecutionID:    run.ID,
				PipelineName:   run.PipelineName,
				StartTime:      run.StartTime,
				ElapsedSeconds: elapsed,
				StatusCode:     run.Status,
				StatusLabel:    domain.StatusLabel(run.Status),
				ExecutedBy:     textOrNA(run.Operator),
				IsLongRunning:  IsLongRunning(elapsed),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}

// IsLongRunning reports whether an in-flight run has exceeded LongRunningThreshold.
func IsLongRunning(elapsedSeconds int64) bool {
	return elapsedSeconds > int64(LongRunningThreshold/time.Second)
}

// RecentExecutions lists the newest runs in the window, capped at limit (at
// most MaxRecentExecutions).
func (s *Service) RecentExecutions(ctx context.Context, scope Scope, days, limit int) ([]domain.ExecutionSummary, error) {
	since, ok := s.daysSince(s.now(), days)
	if !ok {
		return make([]domain.ExecutionSummary, 0), nil
	}
	return s.summaries(ctx, "executions", scope, repository.RunQuery{
		Since:  since,
		Filter: scope.filter(),
		Limit:  clampLimit(limit, MaxRecentExecutions),
	})
}

// LastExecuted lists the newest runs regardless of window, at most MaxLastExecuted.
func (s *Service) LastExecuted(ctx context.Context, scope Scope, count int) ([]domain.ExecutionSummary, error) {
	return s.summaries(ctx, "last_executed", scope, repository.RunQuery{
		Filter: scope.filter(),
		Limit:  clampLimit(count, MaxLastExecuted),
	})
}

func (s *Service) summaries(ctx context.Context, report string, scope Scope, q repository.RunQuery) ([]domain.ExecutionSummary, error) {
	summaries := make([]domain.ExecutionSummary, 0)
	err := s.withStore(ctx, report, scope, func(ctx context.Context, repo repository.ExecutionRepository) error {
		runs, err := repo.ListRuns(ctx, q)
		if err != nil {
			return err
		}
		for _, run := range runs {
			if len(summaries) == q.Limit {
				break
			}
			duration, _ := run.DurationSeconds()
			summaries = append(summaries, domain.ExecutionSummary{
				ExecutionID:     run.ID,
				PipelineName:    run.PipelineName,
				FolderName:      run.FolderName,
				ProjectName:     run.ProjectName,
				BusinessUnit:    domain.Classify(run.PipelineName),
				Status:          domain.StatusLabel(run.Status),
				StartTime:       run.StartTime,
				EndTime:         run.EndTime,
				DurationSeconds: duration,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// wholeUnits truncates d to whole units, never going below zero.
func wholeUnits(d, unit time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / unit)
}
