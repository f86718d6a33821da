package config

import (
	"os"
	"testing"
	"time"
)

// TestAcceptanceCriteria verifies all milestone acceptance criteria.
func TestAcceptanceCriteria(t *testing.T) {
	t.Run("AC1: Daemon runs with defaults and no config file", func(t *testing.T) {
		os.Unsetenv("FK_DAEMON_DATABASE_URL")
		os.Unsetenv("FK_DAEMON_TICK_INTERVAL")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("AC1 FAIL: LoadConfig error: %v", err)
		}
		want := DefaultDaemonConfig()
		if *cfg != *want {
			t.Fatalf("AC1 FAIL: defaults mismatch: got %+v, want %+v", cfg, want)
		}
		t.Log("AC1 PASS: Defaults load without config file or environment")
	})

	t.Run("AC2: Config file values applied", func(t *testing.T) {
		tmpfile, err := os.CreateTemp("", "config-*.yaml")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(tmpfile.Name())

		configContent := `daemon:
  database_url: "sqlite://var/fk.db"
  manifest_path: "assets.yaml"
  tick_interval: "2m"
`
		if _, err := tmpfile.Write([]byte(configContent)); err != nil {
			t.Fatal(err)
		}
		tmpfile.Close()

		cfg, err := LoadConfig(tmpfile.Name())
		if err != nil {
			t.Fatalf("AC2 FAIL: LoadConfig error: %v", err)
		}
		if cfg.DatabaseURL != "sqlite://var/fk.db" {
			t.Fatalf("AC2 FAIL: expected file database_url, got %s", cfg.DatabaseURL)
		}
		if cfg.ManifestPath != "assets.yaml" {
			t.Fatalf("AC2 FAIL: expected file manifest_path, got %s", cfg.ManifestPath)
		}
		if cfg.TickInterval != 2*time.Minute {
			t.Fatalf("AC2 FAIL: expected tick_interval 2m, got %v", cfg.TickInterval)
		}
		if cfg.Concurrency != 4 {
			t.Fatalf("AC2 FAIL: unset file keys should keep defaults, got %d", cfg.Concurrency)
		}
		t.Log("AC2 PASS: Config file values applied over defaults")
	})

	t.Run("AC3: Environment overrides config file", func(t *testing.T) {
		os.Setenv("FK_DAEMON_TICK_INTERVAL", "10s")
		defer os.Unsetenv("FK_DAEMON_TICK_INTERVAL")

		tmpfile, err := os.CreateTemp("", "config-*.yaml")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(tmpfile.Name())

		configContent := `daemon:
  tick_interval: "5m"
`
		if _, err := tmpfile.Write([]byte(configContent)); err != nil {
			t.Fatal(err)
		}
		tmpfile.Close()

		cfg, err := LoadConfig(tmpfile.Name())
		if err != nil {
			t.Fatalf("AC3 FAIL: LoadConfig error: %v", err)
		}
		// Environment variable (10s) should override config file (5m)
		if cfg.TickInterval != 10*time.Second {
			t.Fatalf("AC3 FAIL: Environment should override config file. Expected 10s, got %v", cfg.TickInterval)
		}
		t.Log("AC3 PASS: Environment variables override config file (CLI flags > env > config in viper)")
	})
}
