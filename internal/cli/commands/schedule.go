package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/pgbackup/internal/backup"
	"github.com/branchd-dev/pgbackup/internal/scheduler"
)

// NewScheduleCmd creates the schedule command
func NewScheduleCmd() *cobra.Command {
	var cronExpr string

	cmd := &cobra.Command{
		Use:   "schedule <directory>",
		Short: "Dump on a cron schedule until interrupted",
		Long: `Dump every logical database on a cron schedule. Each run writes into its
own subdirectory of <directory> named dump_YYYYMMDDHHmmss.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd, args[0], cronExpr)
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", `Cron expression, e.g. "0 2 * * *" (defaults to BACKUP_SCHEDULE)`)

	return cmd
}

func runSchedule(cmd *cobra.Command, dir, cronExpr string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if cronExpr == "" {
		cronExpr = env.cfg.Backup.Schedule
	}
	if cronExpr == "" {
		return fmt.Errorf("no schedule given. Pass --cron or set BACKUP_SCHEDULE")
	}

	target, err := env.newTarget(false, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	job := func(ctx context.Context, runDir string) error {
		if err := env.preflight(runDir); err != nil {
			return err
		}
		_, err := env.record(ctx, backup.OperationDump, runDir, target.Dump)
		return err
	}

	s, err := scheduler.New(cronExpr, dir, job, env.logger)
	if err != nil {
		return err
	}
	return s.Run(cmd.Context())
}
