package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/splax/etlwatch/internal/app/migrate"
	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
	"github.com/splax/etlwatch/internal/repository/postgres"
)

func setupCatalog(t *testing.T) (*postgres.Repository, *pgxpool.Pool, context.Context) {
	t.Helper()
	if os.Getenv("ETLWATCH_INTEGRATION") != "1" {
		t.Skip("set ETLWATCH_INTEGRATION=1 to run postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("etl_catalog"),
		tcpostgres.WithUsername("etl"),
		tcpostgres.WithPassword("etl"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner, err := migrate.New(dsn, "", logger)
	require.NoError(t, err)
	require.NoError(t, runner.Up(ctx))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return postgres.New(pool), pool, ctx
}

func seedCatalog(ctx context.Context, t *testing.T, pool *pgxpool.Pool, now time.Time) {
	t.Helper()
	runs := []struct {
		id       int64
		name     *string
		status   int
		start    time.Time
		end      *time.Time
		operator *string
	}{
		{1, ptr("CR_Load"), domain.StatusSucceeded, now.Add(-3 * time.Hour), ptr(now.Add(-3*time.Hour + time.Minute)), ptr(`CORP\etl`)},
		{2, ptr("CR_Load"), domain.StatusFailed, now.Add(-2 * time.Hour), ptr(now.Add(-2*time.Hour + 30*time.Second)), nil},
		{3, ptr("cn_extract"), domain.StatusRunning, now.Add(-40 * time.Minute), nil, nil},
		{4, ptr("CRX_Other"), domain.StatusFailed, now.Add(-time.Hour), ptr(now.Add(-time.Hour + time.Second)), nil},
		{5, nil, domain.StatusSucceeded, now.Add(-time.Hour), ptr(now.Add(-time.Hour + time.Second)), nil},
		{6, ptr("CR_Load"), domain.StatusSucceeded, now.AddDate(0, 0, -120), ptr(now.AddDate(0, 0, -120).Add(time.Minute)), nil},
	}
	for _, r := range runs {
		_, err := pool.Exec(ctx, `INSERT INTO etl_catalog.executions
			(execution_id, folder_name, project_name, package_name, status, start_time, end_time, executed_as_name)
			VALUES ($1, 'Nightly', 'Warehouse', $2, $3, $4, $5, $6)`,
			r.id, r.name, r.status, r.start, r.end, r.operator)
		require.NoError(t, err)
	}
	messages := []struct {
		id, run int64
		at      time.Time
		kind    int
		text    *string
	}{
		{100, 2, now.Add(-2*time.Hour + 10*time.Second), domain.MessageTypeError, ptr("first error")},
		{101, 2, now.Add(-2*time.Hour + 20*time.Second), domain.MessageTypeError, ptr("second error")},
		{102, 2, now.Add(-2*time.Hour + 25*time.Second), 70, ptr("information")},
		{103, 4, now.Add(-time.Hour), domain.MessageTypeError, nil},
	}
	for _, m := range messages {
		_, err := pool.Exec(ctx, `INSERT INTO etl_catalog.event_messages
			(event_message_id, operation_id, message_time, message_type, message)
			VALUES ($1, $2, $3, $4, $5)`, m.id, m.run, m.at, m.kind, m.text)
		require.NoError(t, err)
	}
}

func TestRepositoryQueries(t *testing.T) {
	repo, pool, ctx := setupCatalog(t)
	now := time.Now().UTC().Truncate(time.Second)
	seedCatalog(ctx, t, pool, now)
	since := now.AddDate(0, 0, -30)

	t.Run("list runs newest first", func(t *testing.T) {
		runs, err := repo.ListRuns(ctx, repository.RunQuery{Since: since})
		require.NoError(t, err)
		require.Len(t, runs, 5)
		assert.Equal(t, int64(3), runs[0].ID)
		assert.Nil(t, runs[0].EndTime)
	})

	t.Run("unit filter treats underscore literally", func(t *testing.T) {
		runs, err := repo.ListRuns(ctx, repository.RunQuery{Since: since, Filter: domain.FilterFor("ClientRepo")})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		for _, run := range runs {
			assert.Equal(t, "CR_Load", run.PipelineName)
		}
	})

	t.Run("null names are uncategorized", func(t *testing.T) {
		runs, err := repo.ListRuns(ctx, repository.RunQuery{Since: since, Filter: domain.FilterFor("Uncategorized")})
		require.NoError(t, err)
		names := make([]string, 0, len(runs))
		for _, run := range runs {
			names = append(names, run.PipelineName)
		}
		assert.ElementsMatch(t, []string{"CRX_Other", ""}, names)
	})

	t.Run("status and limit", func(t *testing.T) {
		runs, err := repo.ListRuns(ctx, repository.RunQuery{Statuses: domain.InFlightStatuses, Limit: 10})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, int64(3), runs[0].ID)

		limited, err := repo.ListRuns(ctx, repository.RunQuery{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("error messages of failed runs", func(t *testing.T) {
		msgs, err := repo.ListErrorMessages(ctx, repository.MessageQuery{Since: since, RunStatus: domain.StatusFailed})
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, int64(103), msgs[0].ID)
		assert.Nil(t, msgs[0].Text)
		assert.Equal(t, "CR_Load", msgs[1].PipelineName)
	})

	t.Run("latest error per pipeline", func(t *testing.T) {
		latest, err := repo.LatestErrorByPipeline(ctx, repository.MessageQuery{Since: since, RunStatus: domain.StatusFailed})
		require.NoError(t, err)
		require.Contains(t, latest, "CR_Load")
		require.NotNil(t, latest["CR_Load"].Text)
		assert.Equal(t, "second error", *latest["CR_Load"].Text)
	})

	t.Run("latest run status ignores window", func(t *testing.T) {
		statuses, err := repo.LatestRunStatus(ctx, []string{"CR_Load", "cn_extract", "missing"})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, statuses["CR_Load"])
		assert.Equal(t, domain.StatusRunning, statuses["cn_extract"])
		assert.NotContains(t, statuses, "missing")
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, repo.Ping(ctx))
	})
}

func ptr[T any](v T) *T { return &v }
