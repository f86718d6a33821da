package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/freshkeeper/internal/core/api"
	"github.com/solatis/freshkeeper/internal/core/config"
	"github.com/solatis/freshkeeper/internal/core/db"
	"github.com/solatis/freshkeeper/internal/core/storage"
	"github.com/solatis/freshkeeper/internal/types"
)

var ticksCmd = &cobra.Command{
	Use:   "ticks",
	Short: "List scheduling ticks, newest first",
	RunE:  runTicks,
}

func init() {
	rootCmd.AddCommand(ticksCmd)
	ticksCmd.Flags().Int("days", 1, "how many whole days of ticks to show")
	ticksCmd.Flags().Int("offset", 0, "shift the day window this many days into the past")
	ticksCmd.Flags().StringSlice("status", nil, "only ticks with these statuses (STARTED, SUCCESS, FAILURE, SKIPPED)")
	ticksCmd.Flags().Int("limit", 50, "maximum ticks to show (0 for no cap)")
	ticksCmd.Flags().Int64("cursor", 0, "resume strictly before this tick id")
}

func runTicks(cmd *cobra.Command, args []string) error {
	schedule, closeDB, err := openSchedule()
	if err != nil {
		return err
	}
	defer closeDB()

	days, _ := cmd.Flags().GetInt("days")
	offset, _ := cmd.Flags().GetInt("offset")
	limit, _ := cmd.Flags().GetInt("limit")
	tickCursor, _ := cmd.Flags().GetInt64("cursor")
	statusNames, _ := cmd.Flags().GetStringSlice("status")

	statuses := make([]types.TickStatus, 0, len(statusNames))
	for _, name := range statusNames {
		status, err := types.ParseTickStatus(name)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	}

	ticks, err := schedule.Ticks(cmd.Context(), storage.TickFilter{
		DayRange:  days,
		DayOffset: offset,
		Statuses:  statuses,
		Limit:     limit,
		Cursor:    tickCursor,
	})
	if err != nil {
		return fmt.Errorf("failed to list ticks: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tEVALUATION\tSTARTED\tDURATION\tREQUESTED\tRUNS\tERROR")
	for _, tick := range ticks {
		duration := "-"
		if tick.EndedAt != nil {
			duration = tick.EndedAt.Sub(tick.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%d\t%d\t%s\n",
			tick.ID,
			tick.Status,
			tick.EvaluationID,
			tick.StartedAt.Format(time.RFC3339),
			duration,
			api.RequestedMaterializationCount(tick),
			len(tick.RunIDs),
			firstLine(tick.Error),
		)
	}
	return w.Flush()
}

// firstLine truncates multi-line error text for table display.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// openSchedule opens the configured database and wraps it in a schedule
// store. The returned closer releases the connection pool.
func openSchedule() (*storage.ScheduleStorage, func(), error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return storage.NewScheduleStorage(queries), func() { database.Close() }, nil
}
