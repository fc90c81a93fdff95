// -----------------------------------------------------------------------
// Configuration - TOML file with JEZEL_* environment overrides
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

const envPrefix = "JEZEL_"

// ServerTypeWeb runs only the data-service surface; ServerTypeScheduler
// runs the scheduler, heartbeat, recovery and worker loops.
const (
	ServerTypeWeb       = "web"
	ServerTypeScheduler = "scheduler"
)

// Config is the root application configuration.
type Config struct {
	Debug     bool            `toml:"debug"`
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Logging   LoggingConfig   `toml:"logging"`
	Admin     AdminConfig     `toml:"admin"`
}

// ServerConfig selects which loops this process runs.
type ServerConfig struct {
	Type string `toml:"type" validate:"oneof=web scheduler"`
}

// DatabaseConfig describes the row store connection.
type DatabaseConfig struct {
	URI           string `toml:"uri" validate:"required"`
	Table         string `toml:"table" validate:"required"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms" validate:"min=0"`
	WALMode       bool   `toml:"wal_mode"`
}

// SchedulerConfig tunes the scheduling and execution loops.
type SchedulerConfig struct {
	TickSeconds      int `toml:"tick_seconds" validate:"min=1"`
	ProcessCount     int `toml:"process_count" validate:"min=1"`
	QueueSize        int `toml:"queue_size" validate:"min=1"`
	HeartbeatSeconds int `toml:"heartbeat_seconds" validate:"min=1"`
	StaleSeconds     int `toml:"stale_seconds" validate:"min=1"`
}

// LoggingConfig controls log level and output targets.
type LoggingConfig struct {
	Level  string   `toml:"level"`
	Output []string `toml:"output"`
}

// AdminConfig carries bootstrap credentials, applied only when no system
// user exists yet.
type AdminConfig struct {
	DefaultUsername string `toml:"default_username"`
	DefaultPassword string `toml:"default_password"`
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Debug: false,
		Server: ServerConfig{
			Type: ServerTypeScheduler,
		},
		Database: DatabaseConfig{
			URI:           "sqlite://data/jezel.db",
			Table:         "jezel",
			BusyTimeoutMS: 5000,
			WALMode:       true,
		},
		Scheduler: SchedulerConfig{
			TickSeconds:      1,
			ProcessCount:     4,
			QueueSize:        256,
			HeartbeatSeconds: 5,
			StaleSeconds:     30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Admin: AdminConfig{
			DefaultUsername: "admin",
			DefaultPassword: "admin",
		},
	}
}

// LoadFromFiles loads defaults, applies the first readable TOML file, then
// environment overrides, then validates.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		break
	}

	config.applyEnvOverrides()

	if config.Debug {
		// Debug mode means verbose logs over a throwaway store.
		config.Logging.Level = "debug"
		config.Database.URI = "sqlite::memory:"
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v, ok := lookupEnv("DEBUG"); ok {
		c.Debug = parseBool(v, c.Debug)
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := lookupEnv("DATABASE_URI"); ok {
		c.Database.URI = v
	}
	if v, ok := lookupEnv("DATABASE_TABLE"); ok {
		c.Database.Table = v
	}
	if v, ok := lookupEnv("SERVER_TYPE"); ok {
		c.Server.Type = strings.ToLower(v)
	}
	if v, ok := lookupEnv("SCHEDULER_PROCESS_COUNT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.ProcessCount = n
		}
	}
	if v, ok := lookupEnv("ADMIN_DEFAULT_USERNAME"); ok {
		c.Admin.DefaultUsername = v
	}
	if v, ok := lookupEnv("ADMIN_DEFAULT_PASSWORD"); ok {
		c.Admin.DefaultPassword = v
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return fallback
	}
	return b
}
