package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/pgbackup/internal/cli/commands"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "pgbackup",
	Short: "pgbackup - Multi-database PostgreSQL backup and restore",
	Long: `pgbackup dumps and restores every logical database of a deployment.

Databases are read from a database.yml style file. With more than one
database, all dumps come from snapshots of the same point in time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Database config file (overrides BACKUP_DATABASE_CONFIG)")

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pgbackup version %s\n", version)
		},
	})

	// Add all subcommands
	rootCmd.AddCommand(commands.NewDumpCmd())
	rootCmd.AddCommand(commands.NewRestoreCmd())
	rootCmd.AddCommand(commands.NewVerifyCmd())
	rootCmd.AddCommand(commands.NewScheduleCmd())
	rootCmd.AddCommand(commands.NewHistoryCmd())
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// operation; cleanup still runs.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
