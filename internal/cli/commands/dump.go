package commands

import (
	"github.com/spf13/cobra"

	"github.com/branchd-dev/pgbackup/internal/backup"
)

// NewDumpCmd creates the dump command
func NewDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <directory>",
		Short: "Dump every logical database into a directory",
		Long: `Dump every configured logical database into <directory>.

The primary database is written to database.sql.gz, every other one to
<name>_database.sql.gz. With more than one database, all dumps are taken
from snapshots exported at the same point in time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, args[0])
		},
	}
}

func runDump(cmd *cobra.Command, dir string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.preflight(dir); err != nil {
		return err
	}

	target, err := env.newTarget(false, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	run, err := env.record(cmd.Context(), backup.OperationDump, dir, target.Dump)
	if err != nil {
		return err
	}

	env.logger.Info().
		Str("directory", dir).
		Int("databases", len(run.Results)).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Dump completed")
	return nil
}
