package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/freshkeeper/internal/core/config"
	"github.com/solatis/freshkeeper/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "show migration status without applying")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	statusOnly, _ := cmd.Flags().GetBool("status")
	if !statusOnly {
		if err := db.MigrateUp(database); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	statuses, err := db.MigrateStatus(database)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = fmt.Sprintf("applied (%dms)", s.ExecutionMs)
			if s.AppliedAt != nil {
				state = fmt.Sprintf("applied %s (%dms)", s.AppliedAt.Format(time.RFC3339), s.ExecutionMs)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-32s %s\n", s.ID, state)
	}
	return nil
}
