package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every runtime knob. Values come from the environment,
// optionally overridden by a YAML file named in INKWELL_CONFIG.
type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	CORSOrigins string `yaml:"cors_origins"`

	// Remote store
	DatabaseURL string `yaml:"database_url"`
	TablePrefix string `yaml:"table_prefix"`

	// Auth: "jwks" verifies tokens against AuthJWKSURL, "static" maps every
	// request to StaticAccountID (dev only).
	AuthMode        string `yaml:"auth_mode"`
	AuthJWKSURL     string `yaml:"auth_jwks_url"`
	StaticAccountID string `yaml:"static_account_id"`

	// Local-first engine
	StateBackend string        `yaml:"state_backend"` // file | sqlite | memory
	StateDir     string        `yaml:"state_dir"`
	QuietPeriod  time.Duration `yaml:"quiet_period"`
	// ProbeInterval is the connectivity probe cadence; zero uses the default.
	ProbeInterval time.Duration `yaml:"probe_interval"`
	SendTimeout   time.Duration `yaml:"send_timeout"`

	// Logging
	LogDir      string `yaml:"log_dir"` // empty disables file logging
	LogMaxFiles int    `yaml:"log_max_files"`

	Debug bool `yaml:"debug"`
}

// Load builds the config from the environment, then applies the YAML file
// in INKWELL_CONFIG if set. Returns an error only for an unreadable or
// malformed config file.
func Load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "dev")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		TablePrefix: getTablePrefix(env),

		AuthMode:        getEnv("AUTH_MODE", defaultAuthMode(env)),
		AuthJWKSURL:     getEnv("AUTH_JWKS_URL", ""),
		StaticAccountID: getEnv("STATIC_ACCOUNT_ID", "local-dev"),

		StateBackend:  getEnv("STATE_BACKEND", "file"),
		StateDir:      getEnv("STATE_DIR", defaultStateDir()),
		QuietPeriod:   getDurationEnv("QUIET_PERIOD", 500*time.Millisecond),
		ProbeInterval: getDurationEnv("PROBE_INTERVAL", 15*time.Second),
		SendTimeout:   getDurationEnv("SEND_TIMEOUT", 10*time.Second),

		LogDir:      getEnv("LOG_DIR", ""),
		LogMaxFiles: getIntEnv("LOG_MAX_FILES", 10),

		Debug: getEnv("DEBUG", defaultDebug(env)) == "true",
	}

	if path := os.Getenv("INKWELL_CONFIG"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyFile overlays YAML values onto cfg. Fields absent from the file keep
// their environment-derived values.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func defaultAuthMode(env string) string {
	if env == "prod" {
		return "jwks"
	}
	return "static"
}

func defaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/inkwell"
	}
	return ".inkwell"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
