package cmd

import (
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update [deps...]",
	Short: "Re-resolve dependencies and reinstall anything that changed",
	Long: `update re-resolves the manifest against its sources. With no
arguments every dependency is free to move to the latest commit
matching its version spec; naming one or more dependencies restricts
re-resolution to just those entries, leaving every other lockfile entry
pinned exactly where it is.

--check performs the resolve in memory and exits 1 if the result would
differ from agpm.lock, without writing or installing anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd.Context(), args)
	},
}

func init() {
	updateCmd.Flags().BoolVar(&installFrozenFlag, "frozen", false, "install exactly what agpm.lock pins, failing if it is missing or empty (no staleness check)")
	updateCmd.Flags().BoolVar(&installCheckFlag, "check", false, "exit 1 if updating would change anything, without writing")
	rootCmd.AddCommand(updateCmd)
}
