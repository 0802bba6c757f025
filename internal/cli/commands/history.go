package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/branchd-dev/pgbackup/internal/models"
)

// NewHistoryCmd creates the history command
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded dump and restore runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 = all)")

	return cmd
}

func runHistory(cmd *cobra.Command, limit int) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if env.catalog == nil {
		return fmt.Errorf("run catalog is disabled. Set BACKUP_CATALOG_PATH to record runs")
	}

	runs, err := env.catalog.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOPERATION\tSTATUS\tDATABASES\tSIZE\tDURATION\tSTARTED\tDIRECTORY")
	fmt.Fprintln(w, "──\t─────────\t──────\t─────────\t────\t────────\t───────\t─────────")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.Operation,
			run.Status,
			databaseSummary(run.Databases),
			humanize.Bytes(uint64(totalSize(run.Databases))),
			duration(run),
			humanize.Time(run.StartedAt),
			run.Directory,
		)
	}

	return w.Flush()
}

func databaseSummary(databases []models.DatabaseRun) string {
	ok := 0
	for _, d := range databases {
		if d.Success {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d", ok, len(databases))
}

func totalSize(databases []models.DatabaseRun) int64 {
	var total int64
	for _, d := range databases {
		total += d.SizeBytes
	}
	return total
}

func duration(run models.BackupRun) string {
	if !run.Status.IsTerminal() {
		return "-"
	}
	return run.Duration().Round(time.Second).String()
}
