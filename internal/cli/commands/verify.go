package commands

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewVerifyCmd creates the verify command
func NewVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <directory>",
		Short: "Check the integrity of every archive in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, args[0])
		},
	}
}

func runVerify(cmd *cobra.Command, dir string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	target, err := env.newTarget(true, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	infos, skipped, err := target.Verify(cmd.Context(), dir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ARCHIVE\tCOMPRESSED\tUNCOMPRESSED\tRATIO")
	fmt.Fprintln(w, "───────\t──────────\t────────────\t─────")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fx\n",
			filepath.Base(info.Path),
			humanize.Bytes(uint64(info.CompressedSize)),
			humanize.Bytes(uint64(info.UncompressedSize)),
			info.Ratio(),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, name := range skipped {
		fmt.Fprintf(out, "No archive for database %s\n", name)
	}
	fmt.Fprintf(out, "\n%d archive(s) verified\n", len(infos))
	return nil
}
