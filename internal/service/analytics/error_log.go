package analytics

import (
	"context"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
)

// RecentErrors lists error messages raised by failed runs in the window, most
// recent first, capped at limit (at most MaxErrorRows).
func (s *Service) RecentErrors(ctx context.Context, scope Scope, days, limit int) ([]domain.ErrorLog, error) {
	errs := make([]domain.ErrorLog, 0)
	since, ok := s.daysSince(s.now(), days)
	if !ok {
		return errs, nil
	}
	limit = clampLimit(limit, MaxErrorRows)
	err := s.withStore(ctx, "errors", scope, func(ctx context.Context, repo repository.ExecutionRepository) error {
		messages, err := repo.ListErrorMessages(ctx, repository.MessageQuery{
			Since:     since,
			Filter:    scope.filter(),
			RunStatus: domain.StatusFailed,
			Limit:     limit,
		})
		if err != nil {
			return err
		}
		for _, msg := range messages {
			if len(errs) == limit {
				break
			}
			errs = append(errs, domain.ErrorLog{
				ExecutionID:  msg.RunID,
				PipelineName: msg.PipelineName,
				ErrorTime:    msg.Time,
				ErrorCode:    msg.ID,
				Message:      textOrNA(msg.Text),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return errs, nil
}
