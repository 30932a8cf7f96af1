package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultRemoteURL serves the reference friendface dataset.
const DefaultRemoteURL = "https://www.hackingwithswift.com/samples/friendface.json"

// Cache drivers accepted by CACHE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port         string
	RemoteURL    string
	CacheDriver  string
	SQLitePath   string
	DatabaseURL  string
	DebugMode    bool
	FetchOnStart bool
	// FetchTimeout bounds HTTP-triggered fetches. Zero leaves only the transport defaults.
	FetchTimeout time.Duration
	CORSOrigins  []string
	LogLevel     slog.Level
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	cfg := Config{
		Port:        fallback(os.Getenv("PORT"), "8080"),
		RemoteURL:   fallback(os.Getenv("REMOTE_URL"), DefaultRemoteURL),
		CacheDriver: strings.ToLower(fallback(os.Getenv("CACHE_DRIVER"), DriverSQLite)),
		SQLitePath:  fallback(os.Getenv("SQLITE_PATH"), "friendface.sqlite3"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		CORSOrigins: parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
	}

	var err error
	if cfg.DebugMode, err = parseBool("DEBUG_MODE", false); err != nil {
		return Config{}, err
	}
	if cfg.FetchOnStart, err = parseBool("FETCH_ON_START", true); err != nil {
		return Config{}, err
	}

	seconds := fallback(os.Getenv("FETCH_TIMEOUT_SECONDS"), "0")
	n, err := strconv.Atoi(seconds)
	if err != nil || n < 0 {
		return Config{}, fmt.Errorf("invalid FETCH_TIMEOUT_SECONDS value: %q", seconds)
	}
	cfg.FetchTimeout = time.Duration(n) * time.Second

	if err := cfg.LogLevel.UnmarshalText([]byte(fallback(os.Getenv("LOG_LEVEL"), "info"))); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	switch cfg.CacheDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required when CACHE_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unsupported CACHE_DRIVER %q", cfg.CacheDriver)
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func parseBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value: %q", key, raw)
	}
	return v, nil
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
