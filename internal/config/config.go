package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Images   ImagesConfig   `yaml:"images" mapstructure:"images"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// APIConfig represents the backend REST API configuration
type APIConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DatabaseConfig represents the durable store configuration
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CacheConfig represents domain cache behaviour
type CacheConfig struct {
	DebounceInterval time.Duration `yaml:"debounce_interval" mapstructure:"debounce_interval"`
	ValidateInterval time.Duration `yaml:"validate_interval" mapstructure:"validate_interval"`
}

// ImagesConfig represents the avatar image cache configuration
type ImagesConfig struct {
	Dir             string        `yaml:"dir" mapstructure:"dir"`
	MaxTotalSizeMB  int64         `yaml:"max_total_size_mb" mapstructure:"max_total_size_mb"`
	MaxEntryAge     time.Duration `yaml:"max_entry_age" mapstructure:"max_entry_age"`
	DefaultMaxAge   time.Duration `yaml:"default_max_age" mapstructure:"default_max_age"`
	FailureCooldown time.Duration `yaml:"failure_cooldown" mapstructure:"failure_cooldown"`
	RetryAttempts   int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	MemoryEntries   int           `yaml:"memory_entries" mapstructure:"memory_entries"`
}

// LogConfig represents logging configuration with rotation support
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`               // Log file path (empty = console only)
	Level      string `yaml:"level" mapstructure:"level"`             // Log level (debug, info, warn, error)
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // Max size in MB before rotation
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // Max age in days to keep files
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // Max number of old files to keep
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // Compress old log files
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api base_url cannot be empty")
	}

	if c.API.Timeout < 0 {
		return fmt.Errorf("api timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Images.Dir == "" {
		return fmt.Errorf("images dir cannot be empty")
	}

	if c.Images.MaxTotalSizeMB < 0 {
		return fmt.Errorf("images max_total_size_mb must be non-negative")
	}

	if c.Images.RetryAttempts < 0 {
		return fmt.Errorf("images retry_attempts must be non-negative")
	}

	if c.Cache.DebounceInterval < 0 {
		return fmt.Errorf("cache debounce_interval must be non-negative")
	}

	if c.Log.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		isValid := false
		for _, level := range validLevels {
			if c.Log.Level == level {
				isValid = true
				break
			}
		}
		if !isValid {
			return fmt.Errorf("log.level must be one of: debug, info, warn, error")
		}
	}

	if c.Log.MaxSize < 0 {
		return fmt.Errorf("log.max_size must be non-negative")
	}

	if c.Log.MaxAge < 0 {
		return fmt.Errorf("log.max_age must be non-negative")
	}

	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must be non-negative")
	}

	return nil
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "plansync.db",
		},
		Cache: CacheConfig{
			DebounceInterval: 1 * time.Second,
			ValidateInterval: 15 * time.Minute,
		},
		Images: ImagesConfig{
			Dir:             "./images",
			MaxTotalSizeMB:  100,
			MaxEntryAge:     30 * 24 * time.Hour,
			DefaultMaxAge:   24 * time.Hour,
			FailureCooldown: 5 * time.Minute,
			RetryAttempts:   3,
			RetryDelay:      500 * time.Millisecond,
			MemoryEntries:   256,
		},
		Log: LogConfig{
			File:       "",     // Empty = console only
			Level:      "info", // Default log level
			MaxSize:    100,    // 100MB max size
			MaxAge:     30,     // Keep for 30 days
			MaxBackups: 10,     // Keep 10 old files
			Compress:   true,   // Compress old files
		},
	}
}

// SaveToFile saves a configuration to a YAML file
func SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("no config file path provided")
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfig loads configuration from file and merges with defaults
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		// Look for config file in common locations
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		if configFile != "" {
			// If a specific config file was provided but couldn't be read, return error
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		// No config file found - run on defaults
		return config, nil
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// GetConfigFilePath returns the configuration file path used by viper
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}
