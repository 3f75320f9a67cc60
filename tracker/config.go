package tracker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full rankwatch configuration.
type Config struct {
	Listen       string         `yaml:"listen"`
	DBPath       string         `yaml:"db_path"`
	WorkbookPath string         `yaml:"workbook_path"`
	AuthToken    string         `yaml:"auth_token"`
	LogLevel     string         `yaml:"log_level"`
	API          APIConfig      `yaml:"api"`
	Schedule     ScheduleConfig `yaml:"schedule"`
}

// APIConfig configures the Jungle Scout client. The marketplace is not here:
// it is operator data, read from the ASINs table at the start of each run.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	KeyName        string `yaml:"key_name"`
	Key            string `yaml:"key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	PageSize       int    `yaml:"page_size"`
}

// ScheduleConfig configures the background run chain.
type ScheduleConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:       ":8086",
		DBPath:       "rankwatch.db",
		WorkbookPath: "rankwatch.xlsx",
		LogLevel:     "info",
		API: APIConfig{
			TimeoutSeconds: 30,
			PageSize:       100,
		},
		Schedule: ScheduleConfig{
			IntervalMinutes: 1440,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.API.KeyName == "" || c.API.Key == "" {
		return fmt.Errorf("api.key_name and api.key are required")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be > 0")
	}
	if c.Schedule.Enabled && c.Schedule.IntervalMinutes <= 0 {
		return fmt.Errorf("schedule.interval_minutes must be > 0 when schedule is enabled")
	}
	return nil
}

// APITimeout returns the per-request timeout as a duration.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// ScheduleInterval returns the run-chain interval as a duration.
func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Schedule.IntervalMinutes) * time.Minute
}
