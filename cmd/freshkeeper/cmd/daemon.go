package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/freshkeeper/internal/core/config"
	"github.com/solatis/freshkeeper/internal/core/db"
	"github.com/solatis/freshkeeper/internal/core/storage"
	"github.com/solatis/freshkeeper/internal/daemon"
)

const Version = "0.1.0"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the scheduling daemon",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().String("manifest", "", "asset manifest path")
	daemonCmd.Flags().String("cursor-path", "", "cursor store directory (empty for in-memory)")
	daemonCmd.Flags().Duration("tick-interval", 0, "pause between scheduling ticks")
	daemonCmd.Flags().Int("concurrency", 0, "parallel evaluations per dependency layer")
	daemonCmd.Flags().String("metrics-addr", "", "prometheus listen address (empty disables)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if cmd.Flags().Changed("manifest") {
		cfg.ManifestPath, _ = cmd.Flags().GetString("manifest")
	}
	if cmd.Flags().Changed("cursor-path") {
		cfg.CursorPath, _ = cmd.Flags().GetString("cursor-path")
	}
	if cmd.Flags().Changed("tick-interval") {
		cfg.TickInterval, _ = cmd.Flags().GetDuration("tick-interval")
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := requireMigrations(database); err != nil {
		return err
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	schedule := storage.NewScheduleStorage(queries)

	cursors, err := storage.OpenCursorStore(cfg.CursorPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open cursor store: %w", err)
	}
	defer cursors.Close()

	assets, err := daemon.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	graph, err := daemon.NewGraph(assets)
	if err != nil {
		return fmt.Errorf("failed to build asset graph: %w", err)
	}

	d, err := daemon.New(daemon.Config{
		TickInterval: cfg.TickInterval,
		Concurrency:  cfg.Concurrency,
	}, graph, schedule, cursors, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	var metrics *daemon.MetricsServer
	if cfg.MetricsAddr != "" {
		metrics = daemon.NewMetricsServer(cfg.MetricsAddr)
		go func() {
			if err := metrics.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting freshkeeper daemon",
		"version", Version,
		"database", cfg.DatabaseURL,
		"manifest", cfg.ManifestPath)
	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		logger.Info("shutting down gracefully")
		cancel()
		<-errChan
		if metrics != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := metrics.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", "error", err)
			}
		}
		return nil
	}
}

// requireMigrations refuses to start while schema migrations are pending.
func requireMigrations(database *sqlx.DB) error {
	statuses, err := db.MigrateStatus(database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'freshkeeper migrate' first", s.ID)
		}
	}
	return nil
}
