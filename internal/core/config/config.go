// Package config provides configuration management for FreshKeeper services.
package config

import "time"

// DaemonConfig holds configuration for the scheduling daemon.
type DaemonConfig struct {
	DatabaseURL  string
	CursorPath   string
	ManifestPath string
	TickInterval time.Duration
	Concurrency  int
	MetricsAddr  string
}

// DefaultDaemonConfig returns configuration with default values.
// An empty CursorPath opens an in-memory cursor store; an empty MetricsAddr
// disables the metrics listener.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		DatabaseURL:  "sqlite://freshkeeper.db",
		CursorPath:   "./cursors",
		ManifestPath: "freshkeeper.yaml",
		TickInterval: 30 * time.Second,
		Concurrency:  4,
		MetricsAddr:  ":9464",
	}
}
