package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Clean environment
	os.Unsetenv("FK_DAEMON_DATABASE_URL")
	os.Unsetenv("FK_DAEMON_TICK_INTERVAL")
	os.Unsetenv("FK_DAEMON_CONCURRENCY")

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.DatabaseURL != "sqlite://freshkeeper.db" {
			t.Errorf("expected database_url sqlite://freshkeeper.db, got %s", cfg.DatabaseURL)
		}
		if cfg.CursorPath != "./cursors" {
			t.Errorf("expected cursor_path ./cursors, got %s", cfg.CursorPath)
		}
		if cfg.ManifestPath != "freshkeeper.yaml" {
			t.Errorf("expected manifest_path freshkeeper.yaml, got %s", cfg.ManifestPath)
		}
		if cfg.TickInterval != 30*time.Second {
			t.Errorf("expected tick_interval 30s, got %v", cfg.TickInterval)
		}
		if cfg.Concurrency != 4 {
			t.Errorf("expected concurrency 4, got %d", cfg.Concurrency)
		}
		if cfg.MetricsAddr != ":9464" {
			t.Errorf("expected metrics_addr :9464, got %s", cfg.MetricsAddr)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		os.Setenv("FK_DAEMON_DATABASE_URL", "postgres://fk@localhost/freshkeeper")
		os.Setenv("FK_DAEMON_TICK_INTERVAL", "45s")
		os.Setenv("FK_DAEMON_CONCURRENCY", "8")
		defer os.Unsetenv("FK_DAEMON_DATABASE_URL")
		defer os.Unsetenv("FK_DAEMON_TICK_INTERVAL")
		defer os.Unsetenv("FK_DAEMON_CONCURRENCY")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.DatabaseURL != "postgres://fk@localhost/freshkeeper" {
			t.Errorf("expected overridden database_url, got %s", cfg.DatabaseURL)
		}
		if cfg.TickInterval != 45*time.Second {
			t.Errorf("expected tick_interval 45s, got %v", cfg.TickInterval)
		}
		if cfg.Concurrency != 8 {
			t.Errorf("expected concurrency 8, got %d", cfg.Concurrency)
		}
	})

	t.Run("invalid tick interval", func(t *testing.T) {
		// Unparseable durations read as zero, which validation rejects.
		os.Setenv("FK_DAEMON_TICK_INTERVAL", "often")
		defer os.Unsetenv("FK_DAEMON_TICK_INTERVAL")

		_, err := LoadConfig("")
		if err == nil {
			t.Error("expected error for unparseable tick_interval")
		}
	})

	t.Run("invalid negative concurrency", func(t *testing.T) {
		os.Setenv("FK_DAEMON_CONCURRENCY", "-1")
		defer os.Unsetenv("FK_DAEMON_CONCURRENCY")

		_, err := LoadConfig("")
		if err == nil {
			t.Error("expected error for negative concurrency")
		}
	})

	t.Run("empty database url", func(t *testing.T) {
		os.Setenv("FK_DAEMON_DATABASE_URL", "")
		defer os.Unsetenv("FK_DAEMON_DATABASE_URL")

		// An empty env var does not override the default; only an explicit
		// empty value in a config file can blank it out.
		tmpfile, err := os.CreateTemp("", "config-*.yaml")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(tmpfile.Name())

		configContent := `daemon:
  database_url: ""
`
		if _, err := tmpfile.Write([]byte(configContent)); err != nil {
			t.Fatal(err)
		}
		tmpfile.Close()

		_, err = LoadConfig(tmpfile.Name())
		if err == nil {
			t.Error("expected error for empty database_url")
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := LoadConfig("/nonexistent/freshkeeper.yaml")
		if err == nil {
			t.Error("expected error for missing config file")
		}
	})
}
