package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Env      string
	HTTPAddr string
	BaseURL  string

	DBDSN     string
	JWTSecret string

	LogLevel string

	LoginRateRPM int
	SessionDays  int

	InviteRetentionDays int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Env = strings.TrimSpace(os.Getenv("CAIRN_ENV"))
	if cfg.Env == "" {
		return nil, fmt.Errorf("CAIRN_ENV is required")
	}
	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("CAIRN_ENV must be one of: dev, prod (got: %s)", cfg.Env)
	}

	cfg.HTTPAddr = getEnvOrDefault("CAIRN_HTTP_ADDR", ":8080")

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CAIRN_BASE_URL")), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("CAIRN_BASE_URL is required")
	}

	cfg.DBDSN = strings.TrimSpace(os.Getenv("CAIRN_DB_DSN"))
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("CAIRN_DB_DSN is required")
	}

	cfg.JWTSecret = os.Getenv("CAIRN_JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("CAIRN_JWT_SECRET is required")
	}
	if cfg.Env == "prod" && len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("CAIRN_JWT_SECRET must be at least 32 characters (currently %d)", len(cfg.JWTSecret))
	}

	cfg.LogLevel = getEnvOrDefault("CAIRN_LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("CAIRN_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", cfg.LogLevel)
	}

	var err error
	cfg.LoginRateRPM, err = getEnvIntOrDefault("CAIRN_LOGIN_RATE_RPM", 10)
	if err != nil {
		return nil, err
	}
	if cfg.LoginRateRPM <= 0 {
		return nil, fmt.Errorf("CAIRN_LOGIN_RATE_RPM must be positive (got: %d)", cfg.LoginRateRPM)
	}

	cfg.SessionDays, err = getEnvIntOrDefault("CAIRN_SESSION_DAYS", 7)
	if err != nil {
		return nil, err
	}
	if cfg.SessionDays <= 0 {
		return nil, fmt.Errorf("CAIRN_SESSION_DAYS must be positive (got: %d)", cfg.SessionDays)
	}

	cfg.InviteRetentionDays, err = getEnvIntOrDefault("CAIRN_INVITE_RETENTION_DAYS", 90)
	if err != nil {
		return nil, err
	}
	if cfg.InviteRetentionDays <= 0 {
		return nil, fmt.Errorf("CAIRN_INVITE_RETENTION_DAYS must be positive (got: %d)", cfg.InviteRetentionDays)
	}

	return cfg, nil
}

// IsDev returns true if running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// RedactedValues returns a map of config values with secrets redacted.
func (c *Config) RedactedValues() map[string]string {
	return map[string]string{
		"CAIRN_ENV":                   c.Env,
		"CAIRN_HTTP_ADDR":             c.HTTPAddr,
		"CAIRN_BASE_URL":              c.BaseURL,
		"CAIRN_DB_DSN":                redactDSN(c.DBDSN),
		"CAIRN_JWT_SECRET":            "[REDACTED]",
		"CAIRN_LOG_LEVEL":             c.LogLevel,
		"CAIRN_LOGIN_RATE_RPM":        fmt.Sprintf("%d", c.LoginRateRPM),
		"CAIRN_SESSION_DAYS":          fmt.Sprintf("%d", c.SessionDays),
		"CAIRN_INVITE_RETENTION_DAYS": fmt.Sprintf("%d", c.InviteRetentionDays),
	}
}

func redactDSN(dsn string) string {
	if start := strings.Index(dsn, "://"); start != -1 {
		if end := strings.Index(dsn[start+3:], "@"); end != -1 {
			return dsn[:start+3] + "[REDACTED]" + dsn[start+3+end:]
		}
	}
	return dsn
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got: %q)", key, value)
	}
	return parsed, nil
}
