package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*DaemonConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultDaemonConfig
	v.SetDefault("daemon.database_url", "sqlite://freshkeeper.db")
	v.SetDefault("daemon.cursor_path", "./cursors")
	v.SetDefault("daemon.manifest_path", "freshkeeper.yaml")
	v.SetDefault("daemon.tick_interval", "30s")
	v.SetDefault("daemon.concurrency", 4)
	v.SetDefault("daemon.metrics_addr", ":9464")

	// Bind environment variables with FK_ prefix
	v.SetEnvPrefix("FK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &DaemonConfig{
		DatabaseURL:  v.GetString("daemon.database_url"),
		CursorPath:   v.GetString("daemon.cursor_path"),
		ManifestPath: v.GetString("daemon.manifest_path"),
		TickInterval: v.GetDuration("daemon.tick_interval"),
		Concurrency:  v.GetInt("daemon.concurrency"),
		MetricsAddr:  v.GetString("daemon.metrics_addr"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks required values and positive interval/concurrency.
// CursorPath and MetricsAddr may be empty (in-memory store, metrics disabled).
func validateConfig(cfg *DaemonConfig) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url must not be empty")
	}
	if cfg.ManifestPath == "" {
		return fmt.Errorf("manifest_path must not be empty")
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", cfg.TickInterval)
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	return nil
}
