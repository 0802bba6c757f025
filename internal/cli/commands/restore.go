package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/pgbackup/internal/backup"
)

// NewRestoreCmd creates the restore command
func NewRestoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <directory>",
		Short: "Restore every logical database from a directory",
		Long: `Restore every configured logical database from the archives in <directory>.

All tables of each database are dropped before its archive is loaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, args[0], force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the warning and the grace period before tables are dropped")

	return cmd
}

func runRestore(cmd *cobra.Command, dir string, force bool) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	out := cmd.OutOrStdout()
	target, err := env.newTarget(force, out, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if warning := target.PreRestoreWarning(); warning != "" {
		fmt.Fprintln(out, warning)
	}

	run, err := env.record(cmd.Context(), backup.OperationRestore, dir, target.Restore)

	if warning := target.PostRestoreWarning(); warning != "" {
		fmt.Fprintln(out, warning)
	}
	if err != nil {
		return err
	}

	env.logger.Info().
		Str("directory", dir).
		Int("databases", len(run.Results)).
		Bool("halted", run.Halted).
		Msg("Restore completed")
	return nil
}
