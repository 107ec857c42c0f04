package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/etlwatch/internal/repository"
)

// Registry lazily opens one pool per configured data source.
type Registry struct {
	mu       sync.Mutex
	dsns     map[string]string
	repos    map[string]*Repository
	maxConns int32
	logger   *slog.Logger
}

var _ repository.SourceResolver = (*Registry)(nil)

// NewRegistry builds a registry. defaultDSN backs the empty source name; named
// holds additional sources keyed by name.
func NewRegistry(defaultDSN string, named map[string]string, maxConns int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	dsns := make(map[string]string, len(named)+1)
	if dsn := strings.TrimSpace(defaultDSN); dsn != "" {
		dsns[""] = dsn
	}
	for name, dsn := range named {
		name = strings.TrimSpace(name)
		dsn = strings.TrimSpace(dsn)
		if name == "" || dsn == "" {
			continue
		}
		dsns[name] = dsn
	}
	return &Registry{
		dsns:     dsns,
		repos:    make(map[string]*Repository),
		maxConns: int32(maxConns),
		logger:   logger.With("component", "source_registry"),
	}
}

// Resolve returns the repository for a source, opening its pool on first use.
func (r *Registry) Resolve(ctx context.Context, source string) (repository.ExecutionRepository, error) {
	return r.open(ctx, source)
}

func (r *Registry) open(ctx context.Context, source string) (*Repository, error) {
	source = strings.TrimSpace(source)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, named := r.dsns[source]; !named && strings.EqualFold(source, "default") {
		source = ""
	}

	if repo, ok := r.repos[source]; ok {
		return repo, nil
	}
	dsn, ok := r.dsns[source]
	if !ok {
		if source == "" {
			return nil, fmt.Errorf("default source not configured: %w", repository.ErrDataSourceUnavailable)
		}
		return nil, fmt.Errorf("source %q not configured: %w", source, repository.ErrDataSourceUnavailable)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn for source %q: %w: %w", source, repository.ErrDataSourceUnavailable, err)
	}
	if r.maxConns > 0 {
		cfg.MaxConns = r.maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open source %q: %w: %w", source, repository.ErrDataSourceUnavailable, err)
	}
	repo := New(pool)
	r.repos[source] = repo
	r.logger.Info("catalog pool opened", "source", displayName(source), "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return repo, nil
}

// Sources lists configured source names; the default source is reported as "default".
func (r *Registry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.dsns))
	for name := range r.dsns {
		names = append(names, displayName(name))
	}
	sort.Strings(names)
	return names
}

// Ping checks the default source.
func (r *Registry) Ping(ctx context.Context) error {
	repo, err := r.open(ctx, "")
	if err != nil {
		return err
	}
	return repo.Ping(ctx)
}

// Close releases every open pool.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, repo := range r.repos {
		repo.Close()
		delete(r.repos, name)
	}
}

// Probe opens a single connection to dsn, pings it and closes it again.
func Probe(ctx context.Context, dsn string, timeout time.Duration) error {
	cfg, err := pgx.ParseConfig(strings.TrimSpace(dsn))
	if err != nil {
		return fmt.Errorf("parse dsn: %w: %w", repository.ErrDataSourceUnavailable, err)
	}
	if timeout > 0 {
		cfg.ConnectTimeout = timeout
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w: %w", repository.ErrDataSourceUnavailable, err)
	}
	defer conn.Close(context.Background())
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", repository.ErrDataSourceUnavailable, err)
	}
	return nil
}

func displayName(source string) string {
	if source == "" {
		return "default"
	}
	return source
}
