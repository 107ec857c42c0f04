package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/etlwatch/internal/domain"
	"github.com/splax/etlwatch/internal/repository"
)

// Repository reads the execution catalog from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var _ repository.ExecutionRepository = (*Repository)(nil)

const runColumns = `e.execution_id, COALESCE(e.package_name, ''), COALESCE(e.folder_name, ''),
		COALESCE(e.project_name, ''), e.status, e.start_time, e.end_time, e.executed_as_name`

const messageColumns = `em.event_message_id, em.operation_id, COALESCE(e.package_name, ''),
		em.message_time, em.message_type, em.message`

// ListRuns returns runs matching the query, most recent first.
func (r *Repository) ListRuns(ctx context.Context, q repository.RunQuery) ([]domain.PipelineRun, error) {
	b := &queryBuilder{}
	if !q.Since.IsZero() {
		b.where("e.start_time >= " + b.arg(q.Since))
	}
	if len(q.Statuses) > 0 {
		b.where("e.status = ANY(" + b.arg(int32s(q.Statuses)) + ")")
	}
	b.unit("e.package_name", q.Filter)

	query := `SELECT ` + runColumns + `
		FROM etl_catalog.executions e` + b.clause() + `
		ORDER BY e.start_time DESC, e.execution_id DESC` + b.limit(q.Limit)

	conn, err := r.acquire(ctx, "list runs")
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, b.args...)
	if err != nil {
		return nil, classify("list runs", err)
	}
	defer rows.Close()

	runs := make([]domain.PipelineRun, 0)
	for rows.Next() {
		var run domain.PipelineRun
		if err := rows.Scan(&run.ID, &run.PipelineName, &run.FolderName, &run.ProjectName, &run.Status, &run.StartTime, &run.EndTime, &run.Operator); err != nil {
			return nil, classify("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list runs", err)
	}
	return runs, nil
}

// ListErrorMessages returns error messages of matching runs, most recent first.
func (r *Repository) ListErrorMessages(ctx context.Context, q repository.MessageQuery) ([]domain.EventMessage, error) {
	b := messageConditions(q)
	query := `SELECT ` + messageColumns + `
		FROM etl_catalog.executions e
		INNER JOIN etl_catalog.event_messages em ON em.operation_id = e.execution_id` + b.clause() + `
		ORDER BY em.message_time DESC, em.event_message_id DESC` + b.limit(q.Limit)
	return r.queryMessages(ctx, "list error messages", query, b.args)
}

// LatestErrorByPipeline returns the newest error message for each pipeline name.
func (r *Repository) LatestErrorByPipeline(ctx context.Context, q repository.MessageQuery) (map[string]domain.EventMessage, error) {
	b := messageConditions(q)
	query := `SELECT DISTINCT ON (COALESCE(e.package_name, '')) ` + messageColumns + `
		FROM etl_catalog.executions e
		INNER JOIN etl_catalog.event_messages em ON em.operation_id = e.execution_id` + b.clause() + `
		ORDER BY COALESCE(e.package_name, ''), em.message_time DESC, em.event_message_id DESC`
	messages, err := r.queryMessages(ctx, "latest error by pipeline", query, b.args)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]domain.EventMessage, len(messages))
	for _, msg := range messages {
		latest[msg.PipelineName] = msg
	}
	return latest, nil
}

// LatestRunStatus returns the status of the newest run for each name, across all time.
func (r *Repository) LatestRunStatus(ctx context.Context, names []string) (map[string]int, error) {
	statuses := make(map[string]int, len(names))
	if len(names) == 0 {
		return statuses, nil
	}
	const query = `SELECT DISTINCT ON (COALESCE(package_name, '')) COALESCE(package_name, ''), status
		FROM etl_catalog.executions
		WHERE COALESCE(package_name, '') = ANY($1)
		ORDER BY COALESCE(package_name, ''), start_time DESC, execution_id DESC`

	conn, err := r.acquire(ctx, "latest run status")
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, names)
	if err != nil {
		return nil, classify("latest run status", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var status int
		if err := rows.Scan(&name, &status); err != nil {
			return nil, classify("scan run status", err)
		}
		statuses[name] = status
	}
	if err := rows.Err(); err != nil {
		return nil, classify("latest run status", err)
	}
	return statuses, nil
}

// Ping checks that the catalog database answers.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() {
	r.pool.Close()
}

func (r *Repository) acquire(ctx context.Context, op string) (*pgxpool.Conn, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, classifyAcquire(op, err)
	}
	return conn, nil
}

func (r *Repository) queryMessages(ctx context.Context, op, query string, args []any) ([]domain.EventMessage, error) {
	conn, err := r.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	messages := make([]domain.EventMessage, 0)
	for rows.Next() {
		var msg domain.EventMessage
		if err := rows.Scan(&msg.ID, &msg.RunID, &msg.PipelineName, &msg.Time, &msg.Type, &msg.Text); err != nil {
			return nil, classify("scan event message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return messages, nil
}

func messageConditions(q repository.MessageQuery) *queryBuilder {
	b := &queryBuilder{}
	b.where("em.message_type = " + b.arg(int32(domain.MessageTypeError)))
	if !q.Since.IsZero() {
		b.where("e.start_time >= " + b.arg(q.Since))
	}
	if q.RunStatus != 0 {
		b.where("e.status = " + b.arg(int32(q.RunStatus)))
	}
	b.unit("e.package_name", q.Filter)
	return b
}

func int32s(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}

// classify wraps a driver error with the matching repository error kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, kindOf(err, repository.ErrQueryFailed), err)
}

// classifyAcquire treats unexplained pool failures as an unreachable store. A
// deadline hit while acquiring means no session was established.
func classifyAcquire(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, repository.ErrDataSourceUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %w", op, kindOf(err, repository.ErrDataSourceUnavailable), err)
}

func kindOf(err error, fallback error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return repository.ErrQueryFailed
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "28"), pgErr.Code == "3D000", pgErr.Code == "57P03":
			return repository.ErrDataSourceUnavailable
		default:
			return repository.ErrQueryFailed
		}
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return repository.ErrDataSourceUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return repository.ErrDataSourceUnavailable
	}
	return fallback
}
