package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Config holds all daemon configuration
type Config struct {
	Service   ServiceConfig
	Storage   StorageConfig
	Scheduler SchedulerConfig
	ChatAPI   ChatAPIConfig
	ChatCLI   ChatCLIConfig
}

// ServiceConfig holds HTTP service settings
type ServiceConfig struct {
	Name        string
	Host        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// StorageConfig holds the on-disk layout of the base directory
type StorageConfig struct {
	BaseDir        string
	CleanupDays    int
	CleanupEvery   time.Duration
	MaxDBOpenConns int
}

// SchedulerConfig holds trigger subsystem settings
type SchedulerConfig struct {
	MisfireGrace    time.Duration
	DebounceSeconds float64
}

// ChatAPIConfig holds chat completion service settings
type ChatAPIConfig struct {
	APIKey       string
	DefaultModel string
}

// ChatCLIConfig holds chat CLI discovery settings
type ChatCLIConfig struct {
	Binary string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Host:        getEnv("FLOWPILOT_HOST", "127.0.0.1"),
			Port:        getEnvInt("FLOWPILOT_PORT", 8891),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Storage: StorageConfig{
			BaseDir:        getEnv("FLOWPILOT_HOME", filepath.Join(home, ".flowpilot")),
			CleanupDays:    getEnvInt("FLOWPILOT_CLEANUP_DAYS", 30),
			CleanupEvery:   getEnvDuration("FLOWPILOT_CLEANUP_EVERY", 6*time.Hour),
			MaxDBOpenConns: getEnvInt("FLOWPILOT_DB_MAX_CONNS", 1),
		},
		Scheduler: SchedulerConfig{
			MisfireGrace:    getEnvDuration("FLOWPILOT_MISFIRE_GRACE", 60*time.Second),
			DebounceSeconds: getEnvFloat("FLOWPILOT_DEBOUNCE_SECONDS", 1.0),
		},
		ChatAPI: ChatAPIConfig{
			APIKey:       getEnv("ANTHROPIC_API_KEY", ""),
			DefaultModel: getEnv("FLOWPILOT_CHAT_MODEL", "claude-sonnet-4-20250514"),
		},
		ChatCLI: ChatCLIConfig{
			Binary: getEnv("FLOWPILOT_CHAT_BINARY", "claude"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("base directory is required")
	}
	if c.Storage.CleanupDays < 1 {
		return fmt.Errorf("cleanup days must be >= 1, got %d", c.Storage.CleanupDays)
	}
	return nil
}

// WorkflowsDir returns the directory holding workflow documents
func (c *Config) WorkflowsDir() string {
	return filepath.Join(c.Storage.BaseDir, "workflows")
}

// DatabasePath returns the sqlite file for executions/nodes/schedules
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.BaseDir, "flowpilot.db")
}

// SchedulerDBPath returns the bbolt file for scheduler job persistence.
// Kept separate from the application store so restarts can rebuild
// application state without disturbing job schedules.
func (c *Config) SchedulerDBPath() string {
	return filepath.Join(c.Storage.BaseDir, "scheduler.db")
}

// LogsDir returns the daemon log directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.Storage.BaseDir, "logs")
}

// PIDFile returns the daemon PID file path
func (c *Config) PIDFile() string {
	return filepath.Join(c.Storage.BaseDir, "flowpilot.pid")
}

// EnsureDirs creates the base directory layout
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Storage.BaseDir, c.WorkflowsDir(), c.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

var envRefPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// ResolveSecret expands a "${VAR}" reference from the process environment.
// Plain strings pass through unchanged.
func ResolveSecret(value string) string {
	if m := envRefPattern.FindStringSubmatch(value); m != nil {
		return os.Getenv(m[1])
	}
	return value
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
