package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration.
type Config struct {
	// BackendURL is the base URL of the builder backend, without trailing slash.
	BackendURL string

	// ProjectID selects the project this chat drives. Zero means no project
	// exists yet and the first prompt will generate one.
	ProjectID int64

	// SessionID, when set, reuses an existing backend session instead of
	// creating a new one at startup.
	SessionID string

	// HTTPTimeout bounds ordinary request/response calls. Streaming calls
	// are exempt and run until the body ends.
	HTTPTimeout time.Duration

	// HealthTimeout bounds the liveness probe; exceeding it is treated the
	// same as a connection failure.
	HealthTimeout time.Duration

	// PollAttempts is the status poller's attempt budget.
	PollAttempts int

	// PollInterval is the delay after an ordinary non-terminal poll;
	// PollFailureInterval is the longer delay after a transient fetch failure.
	PollInterval        time.Duration
	PollFailureInterval time.Duration

	// SnapshotTTL bounds how long summary/stats snapshots are served from
	// cache before re-fetching.
	SnapshotTTL time.Duration

	LogDir string
	DBPath string
	Debug  bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BackendURL:          "http://localhost:5000/api",
		HTTPTimeout:         60 * time.Second,
		HealthTimeout:       5 * time.Second,
		PollAttempts:        30,
		PollInterval:        2 * time.Second,
		PollFailureInterval: 5 * time.Second,
		SnapshotTTL:         30 * time.Second,
		LogDir:              "logs",
		DBPath:              "buildora.db",
	}
}

// fileConfig mirrors Config for TOML decoding; durations are strings.
type fileConfig struct {
	BackendURL          string `toml:"backend_url"`
	ProjectID           int64  `toml:"project_id"`
	SessionID           string `toml:"session_id"`
	HTTPTimeout         string `toml:"http_timeout"`
	HealthTimeout       string `toml:"health_timeout"`
	PollAttempts        int    `toml:"poll_attempts"`
	PollInterval        string `toml:"poll_interval"`
	PollFailureInterval string `toml:"poll_failure_interval"`
	SnapshotTTL         string `toml:"snapshot_ttl"`
	LogDir              string `toml:"log_dir"`
	DBPath              string `toml:"db_path"`
	Debug               bool   `toml:"debug"`
}

// Load builds the configuration from defaults, then an optional TOML file,
// then BUILDORA_* environment variables. Flags are applied by the caller on
// top of the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects configurations the controller cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("backend URL must not be empty")
	}
	if c.ProjectID < 0 {
		return fmt.Errorf("project id must not be negative: %d", c.ProjectID)
	}
	if c.PollAttempts < 1 {
		return fmt.Errorf("poll attempt budget must be at least 1: %d", c.PollAttempts)
	}
	if c.PollInterval <= 0 || c.PollFailureInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.HTTPTimeout <= 0 || c.HealthTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if fc.BackendURL != "" {
		c.BackendURL = strings.TrimRight(fc.BackendURL, "/")
	}
	if fc.ProjectID != 0 {
		c.ProjectID = fc.ProjectID
	}
	if fc.SessionID != "" {
		c.SessionID = fc.SessionID
	}
	if fc.PollAttempts != 0 {
		c.PollAttempts = fc.PollAttempts
	}
	if fc.LogDir != "" {
		c.LogDir = fc.LogDir
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.Debug {
		c.Debug = true
	}

	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.HTTPTimeout, &c.HTTPTimeout, "http_timeout"},
		{fc.HealthTimeout, &c.HealthTimeout, "health_timeout"},
		{fc.PollInterval, &c.PollInterval, "poll_interval"},
		{fc.PollFailureInterval, &c.PollFailureInterval, "poll_failure_interval"},
		{fc.SnapshotTTL, &c.SnapshotTTL, "snapshot_ttl"},
	} {
		if d.raw == "" {
			continue
		}
		val, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", d.name, d.raw, err)
		}
		*d.dst = val
	}

	return nil
}

func (c *Config) applyEnv() error {
	if v := getEnv("BUILDORA_BACKEND_URL", ""); v != "" {
		c.BackendURL = strings.TrimRight(v, "/")
	}
	if v := getEnv("BUILDORA_SESSION_ID", ""); v != "" {
		c.SessionID = v
	}
	if v := getEnv("BUILDORA_LOG_DIR", ""); v != "" {
		c.LogDir = v
	}
	if v := getEnv("BUILDORA_DB_PATH", ""); v != "" {
		c.DBPath = v
	}

	id, err := parseOptionalInt64Env("BUILDORA_PROJECT_ID")
	if err != nil {
		return err
	}
	if id != nil {
		c.ProjectID = *id
	}

	attempts, err := parseOptionalIntEnv("BUILDORA_POLL_ATTEMPTS")
	if err != nil {
		return err
	}
	if attempts != nil {
		c.PollAttempts = *attempts
	}

	debug, err := parseBoolEnv("BUILDORA_DEBUG", c.Debug)
	if err != nil {
		return err
	}
	c.Debug = debug

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"BUILDORA_HTTP_TIMEOUT", &c.HTTPTimeout},
		{"BUILDORA_HEALTH_TIMEOUT", &c.HealthTimeout},
		{"BUILDORA_POLL_INTERVAL", &c.PollInterval},
		{"BUILDORA_POLL_FAILURE_INTERVAL", &c.PollFailureInterval},
		{"BUILDORA_SNAPSHOT_TTL", &c.SnapshotTTL},
	} {
		raw := strings.TrimSpace(os.Getenv(d.key))
		if raw == "" {
			continue
		}
		val, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", d.key, raw, err)
		}
		*d.dst = val
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}

func parseOptionalInt64Env(key string) (*int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}
