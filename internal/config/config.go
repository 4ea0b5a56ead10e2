package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"coachcal/internal/fsutil"
)

// Supported storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Driver is one of memory, file, postgres, mysql, redis.
	Driver string `yaml:"driver" json:"driver"`
	// Dir is the data directory for the file driver.
	Dir string `yaml:"dir" json:"dir"`
	// DSN is the connection string for the postgres and mysql drivers.
	DSN string `yaml:"dsn" json:"dsn"`
	// RedisURL is used by the redis driver (redis://host:port/db).
	RedisURL string `yaml:"redis_url" json:"redis_url"`
	// KeyPrefix namespaces collection keys in redis.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// RemindersConfig controls the in-process reminder poller.
type RemindersConfig struct {
	// Cron is the poll schedule (e.g. "* * * * *").
	Cron string `yaml:"cron" json:"cron"`
	// Channel is the redis pub/sub channel due reminders are published on.
	// If RedisURL is empty, due reminders are only logged.
	Channel  string `yaml:"channel" json:"channel"`
	RedisURL string `yaml:"redis_url" json:"redis_url"`
}

// SubscriptionConfig describes an external ICS feed imported into a user's calendar.
type SubscriptionConfig struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	URL    string `yaml:"url" json:"url"`
	UserID string `yaml:"user_id" json:"user_id"`
}

// RateLimitConfig bounds API request rates per client IP.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as the default event zone and as
	// the anchor for "today" / "upcoming" queries.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Reminders RemindersConfig `yaml:"reminders" json:"reminders"`

	// Subscriptions are fetched on the RefreshCron schedule.
	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`
	RefreshCron   string               `yaml:"refresh" json:"refresh"`
	CacheDir      string               `yaml:"cache_dir" json:"cache_dir"`

	MetricsEnabled bool            `yaml:"metrics_enabled" json:"metrics_enabled"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "UTC",
		LogLevel:  "info",
		LogFormat: "text",
		Storage: StorageConfig{
			Driver:    DriverFile,
			Dir:       "/var/lib/coachcal",
			KeyPrefix: "coachcal:",
		},
		Reminders: RemindersConfig{
			Cron:    "* * * * *",
			Channel: "coachcal:reminders",
		},
		Subscriptions:  []SubscriptionConfig{},
		RefreshCron:    "*/30 * * * *",
		CacheDir:       "/var/lib/coachcal/ics-cache",
		MetricsEnabled: true,
		RateLimit:      RateLimitConfig{RPS: 20, Burst: 50},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		c.LogFormat = def.LogFormat
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverFile, DriverPostgres, DriverMySQL, DriverRedis:
	case "":
		c.Storage.Driver = def.Storage.Driver
	default:
		// Unknown drivers are rejected by Validate rather than silently remapped.
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = def.Storage.Dir
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = def.Storage.KeyPrefix
	}

	if c.Reminders.Cron == "" {
		c.Reminders.Cron = def.Reminders.Cron
	}
	if c.Reminders.Channel == "" {
		c.Reminders.Channel = def.Reminders.Channel
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{}
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.Storage.Dir, "ics-cache")
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = def.RateLimit.RPS
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
}

// Validate reports configuration that cannot be started with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverFile:
	case DriverPostgres, DriverMySQL:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the " + c.Storage.Driver + " driver")
		}
	case DriverRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("storage.redis_url is required for the redis driver")
		}
	default:
		return errors.New("unknown storage driver: " + c.Storage.Driver)
	}
	for _, s := range c.Subscriptions {
		if s.ID == "" || s.URL == "" || s.UserID == "" {
			return errors.New("subscriptions need id, url and user_id")
		}
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshalled and normalized.
//   - Afterwards a .env file next to the working directory (if any) is
//     loaded and COACHCAL_* environment variables override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}

	// A missing .env is the common case.
	_ = godotenv.Load()
	applyEnv(cfg)
	cfg.Normalize()

	return cfg, cfg.Validate()
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// applyEnv overrides selected keys from the environment.
func applyEnv(c *Config) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("COACHCAL_LISTEN", &c.Listen)
	setString("COACHCAL_TIMEZONE", &c.Timezone)
	setString("COACHCAL_LOG_LEVEL", &c.LogLevel)
	setString("COACHCAL_LOG_FORMAT", &c.LogFormat)
	setString("COACHCAL_STORAGE_DRIVER", &c.Storage.Driver)
	setString("COACHCAL_STORAGE_DIR", &c.Storage.Dir)
	setString("COACHCAL_STORAGE_DSN", &c.Storage.DSN)
	setString("COACHCAL_STORAGE_REDIS_URL", &c.Storage.RedisURL)
	setString("COACHCAL_REMINDERS_CRON", &c.Reminders.Cron)
	setString("COACHCAL_REMINDERS_REDIS_URL", &c.Reminders.RedisURL)

	if v := os.Getenv("COACHCAL_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.MetricsEnabled = b
		}
	}
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, ".coachcal-config-*.tmp")
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
