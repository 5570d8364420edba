// Package config handles loading and validating phusage configuration.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// PHUSAGE_CONFIG, then environment variables. A .env file, when present, is
// loaded into the environment first and never overrides variables that are
// already set.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/davecgh/go-spew/spew"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/clucraft/phusage-sub000/internal/logger"
)

// Supported storage drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config holds all configuration for the phusage service and CLI.
type Config struct {
	// Server
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// Management API
	AdminAPIKey    string   `yaml:"adminApiKey"` // empty = /api/v1 disabled
	AllowedOrigins []string `yaml:"allowedOrigins"`
	RateLimit      int64    `yaml:"rateLimit"` // requests per minute per client, 0 = unlimited

	// Storage
	Store      string `yaml:"store"`
	SQLitePath string `yaml:"sqlitePath"`

	// Database
	DBHost     string `yaml:"dbHost"`
	DBPort     int    `yaml:"dbPort"`
	DBName     string `yaml:"dbName"`
	DBUser     string `yaml:"dbUser"`
	DBPassword string `yaml:"dbPassword"`
	DBSSLMode  string `yaml:"dbSslMode"`

	// Redis
	RedisHost     string `yaml:"redisHost"`
	RedisPort     int    `yaml:"redisPort"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	// Engine
	AggregateWorkers int `yaml:"aggregateWorkers"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:           "8080",
		LogLevel:       "info",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		RateLimit:      120,

		Store:      StorePostgres,
		SQLitePath: defaultSQLitePath(),

		DBHost:    "localhost",
		DBPort:    5432,
		DBName:    "phusage",
		DBUser:    "phusage",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		AggregateWorkers: runtime.NumCPU(),
	}
}

// Load reads configuration from the .env file, the optional YAML file and
// the environment, then validates the result.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := Default()
	if path := os.Getenv("PHUSAGE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	logger.CfgLog.Infof("loaded config file %s", path)
	return nil
}

func (c *Config) loadEnv() error {
	overrideString(&c.Port, "PHUSAGE_PORT")
	overrideString(&c.LogLevel, "PHUSAGE_LOG_LEVEL")
	overrideString(&c.AdminAPIKey, "PHUSAGE_ADMIN_API_KEY")
	overrideString(&c.Store, "PHUSAGE_STORE")
	overrideString(&c.SQLitePath, "PHUSAGE_SQLITE_PATH")

	overrideString(&c.DBHost, "POSTGRES_HOST")
	overrideString(&c.DBName, "POSTGRES_DB")
	overrideString(&c.DBUser, "POSTGRES_USER")
	overrideString(&c.DBPassword, "POSTGRES_PASSWORD")
	overrideString(&c.DBSSLMode, "POSTGRES_SSLMODE")

	overrideString(&c.RedisHost, "REDIS_HOST")
	overrideString(&c.RedisPassword, "REDIS_PASSWORD")

	if v := os.Getenv("PHUSAGE_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"POSTGRES_PORT", &c.DBPort},
		{"REDIS_PORT", &c.RedisPort},
		{"REDIS_DB", &c.RedisDB},
		{"PHUSAGE_AGGREGATE_WORKERS", &c.AggregateWorkers},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("PHUSAGE_RATE_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PHUSAGE_RATE_LIMIT: %w", err)
		}
		c.RateLimit = n
	}
	return nil
}

func applyDefaults(c *Config) {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = StorePostgres
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.AggregateWorkers <= 0 {
		c.AggregateWorkers = 1
	}
	if c.DBSSLMode == "" {
		c.DBSSLMode = "disable"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !govalidator.IsPort(c.Port) {
		return fmt.Errorf("port is invalid: %q", c.Port)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rateLimit must be >= 0")
	}
	if c.AggregateWorkers < 1 {
		return fmt.Errorf("aggregateWorkers must be >= 1")
	}

	switch c.Store {
	case StorePostgres:
		if !govalidator.IsHost(c.DBHost) {
			return fmt.Errorf("dbHost is invalid: %q", c.DBHost)
		}
		if c.DBPort <= 0 || c.DBPort > 65535 {
			return fmt.Errorf("dbPort is out of range: %d", c.DBPort)
		}
		if strings.TrimSpace(c.DBName) == "" {
			return fmt.Errorf("dbName is required")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("sqlitePath is required for store %q", c.Store)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store driver unsupported: %q", c.Store)
	}

	if c.RedisHost != "" && !govalidator.IsHost(c.RedisHost) {
		return fmt.Errorf("redisHost is invalid: %q", c.RedisHost)
	}
	for i, o := range c.AllowedOrigins {
		if o != "*" && !govalidator.IsURL(o) {
			return fmt.Errorf("allowedOrigins[%d] is invalid: %q", i, o)
		}
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// RedisEnabled reports whether a Redis host is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisHost) != ""
}

// Dump renders the configuration for debug logs with secrets masked.
func (c *Config) Dump() string {
	redacted := *c
	for _, s := range []*string{&redacted.DBPassword, &redacted.RedisPassword, &redacted.AdminAPIKey} {
		if *s != "" {
			*s = "***"
		}
	}
	return spew.Sdump(redacted)
}

// loadDotEnv loads the first .env file found. Existing variables win.
func loadDotEnv() {
	for _, path := range envPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.CfgLog.Warnf("ignoring %s: %v", path, err)
				return
			}
			logger.CfgLog.Debugf("loaded environment from %s", path)
			return
		}
	}
}

func envPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "phusage", ".env"))
	}
	return paths
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "phusage.db"
	}
	return filepath.Join(home, ".config", "phusage", "phusage.db")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
