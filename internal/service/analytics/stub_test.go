package analytics

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
)

type repoStub struct {
	mu       sync.Mutex
	runs     []domain.PipelineRun
	messages []domain.EventMessage

	listRunsErr   error
	messagesErr   error
	latestErr     error
	statusErr     error
	// latestStatus, when set, replaces the status lookup derived from runs.
	latestStatus  map[string]int
	// blockRuns and blockStatus stall the call until the context ends.
	blockRuns     bool
	blockStatus   bool
	runQueries    []repository.RunQuery
	statusQueries [][]string
}

func (r *repoStub) ListRuns(ctx context.Context, q repository.RunQuery) ([]domain.PipelineRun, error) {
	r.mu.Lock()
	r.runQueries = append(r.runQueries, q)
	r.mu.Unlock()
	if r.blockRuns {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.listRunsErr != nil {
		return nil, r.listRunsErr
	}
	out := make([]domain.PipelineRun, 0)
	for _, run := range r.runs {
		if !q.Since.IsZero() && run.StartTime.Before(q.Since) {
			continue
		}
		if len(q.Statuses) > 0 && !containsInt(q.Statuses, run.Status) {
			continue
		}
		if !q.Filter.Match(run.PipelineName) {
			continue
		}
		out = append(out, run)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *repoStub) ListErrorMessages(ctx context.Context, q repository.MessageQuery) ([]domain.EventMessage, error) {
	if r.messagesErr != nil {
		return nil, r.messagesErr
	}
	out := r.matchingMessages(q)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *repoStub) LatestErrorByPipeline(ctx context.Context, q repository.MessageQuery) (map[string]domain.EventMessage, error) {
	if r.latestErr != nil {
		return nil, r.latestErr
	}
	latest := make(map[string]domain.EventMessage)
	for _, msg := range r.matchingMessages(q) {
		if _, ok := latest[msg.PipelineName]; !ok {
			latest[msg.PipelineName] = msg
		}
	}
	return latest, nil
}

func (r *repoStub) LatestRunStatus(ctx context.Context, names []string) (map[string]int, error) {
	r.mu.Lock()
	r.statusQueries = append(r.statusQueries, names)
	r.mu.Unlock()
	if r.blockStatus {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.statusErr != nil {
		return nil, r.statusErr
	}
	if r.latestStatus != nil {
		return r.latestStatus, nil
	}
	statuses := make(map[string]int)
	newest := make(map[string]domain.PipelineRun)
	for _, run := range r.runs {
		if !containsString(names, run.PipelineName) {
			continue
		}
		if prev, ok := newest[run.PipelineName]; !ok || run.StartTime.After(prev.StartTime) {
			newest[run.PipelineName] = run
		}
	}
	for name, run := range newest {
		statuses[name] = run.Status
	}
	return statuses, nil
}

func (r *repoStub) Ping(ctx context.Context) error { return nil }

// matchingMessages joins messages to their runs, newest message first.
func (r *repoStub) matchingMessages(q repository.MessageQuery) []domain.EventMessage {
	runs := make(map[int64]domain.PipelineRun, len(r.runs))
	for _, run := range r.runs {
		runs[run.ID] = run
	}
	out := make([]domain.EventMessage, 0)
	for _, msg := range r.messages {
		run, ok := runs[msg.RunID]
		if !ok || msg.Type != domain.MessageTypeError {
			continue
		}
		if !q.Since.IsZero() && run.StartTime.Before(q.Since) {
			continue
		}
		if q.RunStatus != 0 && run.Status != q.RunStatus {
			continue
		}
		if !q.Filter.Match(run.PipelineName) {
			continue
		}
		msg.PipelineName = run.PipelineName
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

type resolverStub struct {
	repos map[string]repository.ExecutionRepository
	err   error
}

func (r resolverStub) Resolve(ctx context.Context, source string) (repository.ExecutionRepository, error) {
	if r.err != nil {
		return nil, r.err
	}
	repo, ok := r.repos[source]
	if !ok {
		return nil, repository.ErrDataSourceUnavailable
	}
	return repo, nil
}

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestService(repo repository.ExecutionRepository) *Service {
	return newTestServiceWithOptions(repo, Options{})
}

func newTestServiceWithOptions(repo repository.ExecutionRepository, opts Options) *Service {
	svc := New(resolverStub{repos: map[string]repository.ExecutionRepository{"": repo}}, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
	svc.now = func() time.Time { return testNow }
	return svc
}

func finishedRun(id int64, name string, status int, start time.Time, seconds int) domain.PipelineRun {
	end := start.Add(time.Duration(seconds) * time.Second)
	return domain.PipelineRun{ID: id, PipelineName: name, Status: status, StartTime: start, EndTime: &end}
}

func strPtr(v string) *string { return &v }

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
