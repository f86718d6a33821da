package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/freshkeeper/internal/core/api"
	"github.com/solatis/freshkeeper/internal/types"
)

var evaluationsCmd = &cobra.Command{
	Use:   "evaluations ASSET_KEY",
	Short: "Show evaluation records for an asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvaluations,
}

func init() {
	rootCmd.AddCommand(evaluationsCmd)
	evaluationsCmd.Flags().Int("limit", 20, "maximum records to show (0 for no cap)")
	evaluationsCmd.Flags().Int64("cursor", 0, "resume strictly below this evaluation id")
	evaluationsCmd.Flags().Int64("evaluation-id", 0, "show the full tree for one evaluation id")
	evaluationsCmd.Flags().String("partition", "", "with --evaluation-id: status tree for one partition key (empty key for unpartitioned assets)")
}

func runEvaluations(cmd *cobra.Command, args []string) error {
	schedule, closeDB, err := openSchedule()
	if err != nil {
		return err
	}
	defer closeDB()

	key := types.AssetKeyFromString(args[0])
	evaluationID, _ := cmd.Flags().GetInt64("evaluation-id")

	if evaluationID > 0 {
		record, err := schedule.EvaluationRecord(cmd.Context(), key, types.EvaluationID(evaluationID))
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("no evaluation %d for asset %s", evaluationID, key)
		}
		if err != nil {
			return fmt.Errorf("failed to read evaluation record: %w", err)
		}

		if cmd.Flags().Changed("partition") {
			partition, _ := cmd.Flags().GetString("partition")
			node := api.PartitionStatusTree(record.Evaluation.Evaluation, partition)
			printStatusNode(cmd.OutOrStdout(), node, 0)
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), api.Outline(record))
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	recordCursor, _ := cmd.Flags().GetInt64("cursor")
	records, err := schedule.EvaluationRecordsForAsset(cmd.Context(), key, limit, types.EvaluationID(recordCursor))
	if err != nil {
		return fmt.Errorf("failed to list evaluation records: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVALUATION\tTIMESTAMP\tREQUESTED\tRUNS")
	for _, record := range records {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n",
			record.EvaluationID,
			record.Timestamp.Format(time.RFC3339),
			record.Evaluation.NumRequested(),
			len(record.Evaluation.RunIDs),
		)
	}
	return w.Flush()
}

func printStatusNode(w io.Writer, node api.PartitionStatusNode, depth int) {
	fmt.Fprintf(w, "%s%s [%s]\n", strings.Repeat("  ", depth), node.Description, node.Status)
	for _, child := range node.Children {
		printStatusNode(w, child, depth+1)
	}
}
