package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config holds service configuration.
type Config struct {
	StoreDriver     string
	DatabaseURL     string
	SQLitePath      string
	ServerAddr      string
	APITokenHash    string
	WillSeedFile    string
	ProbeTimeout    time.Duration
	FaultCooldown   time.Duration
	MinPollInterval time.Duration

	RailURL     string
	RailToken   string
	RailMaxTPS  float64
	RailDryRun  bool
	DryRunFunds int64

	// RailSigningKeys is a "keyId:hex,..." list; empty disables request signing.
	RailSigningKeys  string
	RailSigningKeyID string

	HeartbeatURLTemplate string

	OTLPEndpoint string
	OTLPInsecure bool

	LockFile string
	LogLevel string
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "willexec")
		pass := getenv("POSTGRES_PASSWORD", "willexec_pass")
		db := getenv("POSTGRES_DB", "willexec")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	cfg := &Config{
		StoreDriver:          strings.ToLower(getenv("STORE_DRIVER", StorePostgres)),
		DatabaseURL:          dsn,
		SQLitePath:           getenv("SQLITE_PATH", "willexec.db"),
		ServerAddr:           getenv("SERVER_ADDR", "0.0.0.0:8080"),
		APITokenHash:         os.Getenv("API_TOKEN_HASH"),
		WillSeedFile:         os.Getenv("WILL_SEED_FILE"),
		ProbeTimeout:         parseDuration(getenv("PROBE_TIMEOUT", "30s"), 30*time.Second),
		FaultCooldown:        parseDuration(getenv("FAULT_COOLDOWN", "30s"), 30*time.Second),
		MinPollInterval:      parseDuration(getenv("MIN_POLL_INTERVAL", "5s"), 5*time.Second),
		RailURL:              os.Getenv("RAIL_URL"),
		RailToken:            os.Getenv("RAIL_TOKEN"),
		RailMaxTPS:           parseFloat(getenv("RAIL_MAX_TPS", "0"), 0),
		RailDryRun:           parseBool(getenv("RAIL_DRY_RUN", "false"), false),
		DryRunFunds:          parseInt(getenv("RAIL_DRY_RUN_BALANCE", "0"), 0),
		RailSigningKeys:      os.Getenv("RAIL_SIGNING_KEYS"),
		RailSigningKeyID:     os.Getenv("RAIL_SIGNING_KEY_ID"),
		HeartbeatURLTemplate: os.Getenv("HEARTBEAT_URL_TEMPLATE"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:         parseBool(getenv("OTEL_INSECURE", "false"), false),
		LockFile:             getenv("LOCK_FILE", "willexec.lock"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.MinPollInterval <= 0 {
		return fmt.Errorf("MIN_POLL_INTERVAL must be positive")
	}
	return nil
}

// RequireRail checks the settings the executor daemon needs to pay out.
func (c *Config) RequireRail() error {
	if !c.RailDryRun && c.RailURL == "" {
		return fmt.Errorf("RAIL_URL is required unless RAIL_DRY_RUN=true")
	}
	if c.RailMaxTPS < 0 {
		return fmt.Errorf("RAIL_MAX_TPS must not be negative")
	}
	return nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int64) int64 {
	if val == "" {
		return def
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(val string, def float64) float64 {
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}
