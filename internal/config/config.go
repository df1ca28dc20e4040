package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Application identity, used in listener events
	ApplicationName string `mapstructure:"application-name"`

	// Cache paths and bound
	CacheDir     string `mapstructure:"cache-dir"`
	CacheDBPath  string `mapstructure:"cache-db-path"`
	MaxCacheSize int64  `mapstructure:"max-cache-size"`

	// FSM database path
	FSMDBPath string `mapstructure:"fsm-db-path"`

	// Module sources
	EmbeddedDir string `mapstructure:"embedded-dir"`
	DownloadDir string `mapstructure:"download-dir"`

	// Network
	ConcurrentDownloads int    `mapstructure:"concurrent-downloads"`
	HTTPTimeoutSeconds  int    `mapstructure:"http-timeout"`
	S3Enabled           bool   `mapstructure:"s3-enabled"`
	S3Region            string `mapstructure:"s3-region"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("application-name", "zipline")
	viper.SetDefault("cache-dir", ".zipline/cache")
	viper.SetDefault("cache-db-path", ".zipline/cache.db")
	viper.SetDefault("max-cache-size", 100*1024*1024)
	viper.SetDefault("fsm-db-path", ".zipline/fsm.db")
	viper.SetDefault("embedded-dir", "")
	viper.SetDefault("download-dir", ".zipline/modules")
	viper.SetDefault("concurrent-downloads", 3)
	viper.SetDefault("http-timeout", 30)
	viper.SetDefault("s3-enabled", false)
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (will be ZIPLINE_CACHE_DIR, etc.)
	viper.SetEnvPrefix("ZIPLINE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.zipline")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.ApplicationName == "" {
		return fmt.Errorf("application-name cannot be empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache-dir cannot be empty")
	}
	if c.CacheDBPath == "" {
		return fmt.Errorf("cache-db-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.MaxCacheSize < 0 {
		return fmt.Errorf("max-cache-size must be non-negative")
	}
	if c.ConcurrentDownloads <= 0 {
		return fmt.Errorf("concurrent-downloads must be positive")
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("http-timeout must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}
