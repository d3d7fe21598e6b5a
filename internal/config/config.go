// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, the process exits.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"offresync/sync-service/internal/francetravail"
	"offresync/sync-service/internal/store"
	"offresync/sync-service/internal/syncer"
)

const (
	DriverPostgres = store.DriverPostgres
	DriverSQLite   = store.DriverSQLite
)

// Config holds all runtime configuration for the sync service.
type Config struct {
	Port string

	StoreDriver string // "postgres" or "sqlite"
	DatabaseURL string
	DBMaxConns  int
	// DBViaBouncer switches pgx to the simple protocol for PgBouncer in
	// transaction mode.
	DBViaBouncer bool
	SQLitePath   string
	RedisURL     string // optional: enables the run lock and sync events

	ClientID        string
	ClientSecret    string
	TokenURL        string
	Scopes          []string
	SearchURL       string
	RequestInterval time.Duration

	SyncCron       string
	SyncOnStart    bool
	LookbackDays   int
	ChunkSize      int
	LockTTL        time.Duration
	PartitionsFile string // optional YAML override of the departement list

	LogLevel  slog.Level
	LogFormat string // "json" or "text"
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           envOr("SYNC_PORT", "8083"),
		StoreDriver:    strings.ToLower(envOr("STORE_DRIVER", DriverPostgres)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     envOr("SQLITE_PATH", "offresync.db"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ClientID:       os.Getenv("FRANCE_TRAVAIL_CLIENT_ID"),
		ClientSecret:   os.Getenv("FRANCE_TRAVAIL_CLIENT_SECRET"),
		TokenURL:       envOr("FRANCE_TRAVAIL_TOKEN_URL", francetravail.DefaultTokenURL),
		Scopes:         strings.Fields(envOr("FRANCE_TRAVAIL_SCOPE", francetravail.DefaultScope)),
		SearchURL:      envOr("FRANCE_TRAVAIL_SEARCH_URL", francetravail.DefaultSearchURL),
		SyncCron:       envOr("SYNC_CRON", "0 */2 * * *"),
		PartitionsFile: os.Getenv("PARTITIONS_FILE"),
		LogFormat:      strings.ToLower(envOr("LOG_FORMAT", "json")),
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.StoreDriver)
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("FRANCE_TRAVAIL_CLIENT_ID and FRANCE_TRAVAIL_CLIENT_SECRET are required")
	}

	var err error
	if cfg.LookbackDays, err = positiveInt("SYNC_LOOKBACK_DAYS", syncer.DefaultLookbackDays); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = positiveInt("UPSERT_CHUNK_SIZE", store.DefaultChunkSize); err != nil {
		return nil, err
	}
	if cfg.DBMaxConns, err = positiveInt("DB_MAX_CONNS", 4); err != nil {
		return nil, err
	}

	intervalMS, err := positiveInt("SYNC_REQUEST_INTERVAL_MS", int(francetravail.DefaultRequestInterval/time.Millisecond))
	if err != nil {
		return nil, err
	}
	cfg.RequestInterval = time.Duration(intervalMS) * time.Millisecond

	lockMinutes, err := positiveInt("SYNC_LOCK_TTL_MINUTES", int(syncer.DefaultLockTTL/time.Minute))
	if err != nil {
		return nil, err
	}
	cfg.LockTTL = time.Duration(lockMinutes) * time.Minute

	if cfg.SyncOnStart, err = boolean("SYNC_ON_START", true); err != nil {
		return nil, err
	}
	if cfg.DBViaBouncer, err = boolean("DB_VIA_PGBOUNCER", false); err != nil {
		return nil, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envOr("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return v, nil
}

func boolean(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, s)
	}
	return v, nil
}

// Store returns the settings store.Open needs.
func (c *Config) Store() store.OpenConfig {
	return store.OpenConfig{
		Driver:      c.StoreDriver,
		DatabaseURL: c.DatabaseURL,
		MaxConns:    c.DBMaxConns,
		ViaBouncer:  c.DBViaBouncer,
		SQLitePath:  c.SQLitePath,
	}
}

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
