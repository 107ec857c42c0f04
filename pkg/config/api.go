package config

import (
	"log"
	"strings"
	"time"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment          string
	Addr                 string
	CatalogDatabaseURL   string
	CatalogSources       map[string]string
	MigrationsDir        string
	MigrateOnStart       bool
	LogLevel             string
	QueryTimeout         time.Duration
	ProbeTimeout         time.Duration
	SourceTestAllowAdhoc bool
	ReportTimezone       string
	DashboardConcurrency int
	PoolMaxConns         int
	RateLimitRedisAddr   string
	RateLimitRedisPass   string
	RateLimitRedisDB     int
	RateLimitPerMinute   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("API_ADDR", ":4000"),
		CatalogDatabaseURL:   GetString("CATALOG_DATABASE_URL", "postgres://etl:etl@db:5432/etl_catalog?sslmode=disable"),
		CatalogSources:       ParseSources(GetString("CATALOG_SOURCES", "")),
		MigrationsDir:        GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		MigrateOnStart:       GetBool("MIGRATE_ON_START", false),
		LogLevel:             GetString("LOG_LEVEL", "info"),
		QueryTimeout:         GetSeconds("QUERY_TIMEOUT_SECONDS", 15*time.Second),
		ProbeTimeout:         GetSeconds("PROBE_TIMEOUT_SECONDS", 5*time.Second),
		SourceTestAllowAdhoc: GetBool("SOURCE_TEST_ALLOW_ADHOC", false),
		ReportTimezone:       GetString("REPORT_TIMEZONE", "UTC"),
		DashboardConcurrency: GetInt("DASHBOARD_CONCURRENCY", 4),
		PoolMaxConns:         GetInt("POOL_MAX_CONNS", 4),
		RateLimitRedisAddr:   GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:     GetInt("RATE_LIMIT_REDIS_DB", 0),
		RateLimitPerMinute:   GetInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// Location resolves ReportTimezone, falling back to UTC.
func (c APIConfig) Location() *time.Location {
	name := strings.TrimSpace(c.ReportTimezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("invalid value for REPORT_TIMEZONE: %v", err)
		return time.UTC
	}
	return loc
}

// ParseSources reads "name=dsn;name=dsn" pairs. Entries without a name or a
// dsn are skipped; the dsn is everything after the first "=".
func ParseSources(raw string) map[string]string {
	sources := make(map[string]string)
	for _, entry := range strings.Split(raw, ";") {
		name, dsn, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		dsn = strings.TrimSpace(dsn)
		if name == "" || dsn == "" {
			continue
		}
		sources[name] = dsn
	}
	return sources
}
