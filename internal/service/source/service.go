package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/splax/etlwatch/internal/repository"
)

const defaultProbeTimeout = 5 * time.Second

var (
	// ErrInvalidServer marks a server description that cannot form a DSN.
	ErrInvalidServer = errors.New("invalid server description")
	// ErrAdhocDisabled rejects raw DSN and server tests when they are not enabled.
	ErrAdhocDisabled = errors.New("ad hoc connection tests are disabled")
)

// Registry is the subset of the source registry the service needs.
type Registry interface {
	repository.SourceResolver
	Sources() []string
}

// ProbeFunc opens and pings a single connection.
type ProbeFunc func(ctx context.Context, dsn string, timeout time.Duration) error

// ServerInput describes a catalog server to connect to.
type ServerInput struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode"`
}

// TestInput selects what to test: a configured source, a raw DSN, or a server description.
type TestInput struct {
	Source string      `json:"source"`
	DSN    string      `json:"dsn"`
	Server ServerInput `json:"server"`
}

// Options tunes a source Service.
type Options struct {
	ProbeTimeout time.Duration
	// AllowAdhoc permits tests against a caller-supplied DSN or server.
	// Configured sources can always be tested.
	AllowAdhoc bool
}

// Service checks that catalog data sources are reachable.
type Service struct {
	registry   Registry
	probe      ProbeFunc
	timeout    time.Duration
	allowAdhoc bool
	logger     *slog.Logger
}

// New constructs a source service.
func New(registry Registry, probe ProbeFunc, logger *slog.Logger, opts Options) Service {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		registry:   registry,
		probe:      probe,
		timeout:    opts.ProbeTimeout,
		allowAdhoc: opts.AllowAdhoc,
		logger:     logger.With("component", "source"),
	}
}

// List returns configured source names.
func (s Service) List() []string {
	return s.registry.Sources()
}

// Test connects to the selected target. Failures wrap repository.ErrDataSourceUnavailable.
func (s Service) Test(ctx context.Context, input TestInput) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dsn := strings.TrimSpace(input.DSN)
	if !s.allowAdhoc && (dsn != "" || strings.TrimSpace(input.Server.Host) != "") {
		s.logger.Warn("ad hoc connection test rejected")
		return ErrAdhocDisabled
	}
	if dsn == "" && strings.TrimSpace(input.Server.Host) != "" {
		built, err := BuildDSN(input.Server)
		if err != nil {
			return err
		}
		dsn = built
	}
	if dsn != "" {
		if err := s.probe(ctx, dsn, s.timeout); err != nil {
			s.logger.Warn("connection test failed", "target", "dsn", "error", err)
			return err
		}
		s.logger.Info("connection test succeeded", "target", "dsn")
		return nil
	}

	name := strings.TrimSpace(input.Source)
	repo, err := s.registry.Resolve(ctx, name)
	if err != nil {
		return err
	}
	if err := repo.Ping(ctx); err != nil {
		s.logger.Warn("connection test failed", "source", name, "error", err)
		return err
	}
	s.logger.Info("connection test succeeded", "source", name)
	return nil
}

// BuildDSN renders a postgres URL for a server description.
func BuildDSN(in ServerInput) (string, error) {
	host := strings.TrimSpace(in.Host)
	if host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidServer)
	}
	if in.Port < 0 || in.Port > 65535 {
		return "", fmt.Errorf("%w: port %d out of range", ErrInvalidServer, in.Port)
	}
	if in.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(in.Port))
	}
	database := strings.TrimSpace(in.Database)
	if database == "" {
		database = "etl_catalog"
	}
	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + database}
	if user := strings.TrimSpace(in.Username); user != "" {
		if in.Password != "" {
			u.User = url.UserPassword(user, in.Password)
		} else {
			u.User = url.User(user)
		}
	}
	sslmode := strings.TrimSpace(in.SSLMode)
	if sslmode == "" {
		sslmode = "prefer"
	}
	u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()
	return u.String(), nil
}
