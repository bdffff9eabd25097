package cmd

import (
	"fmt"

	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check agpm.toml for structural errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := agpmmanifest.Load(manifestPathFlag)
		if err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("agpm.toml is valid: %d source(s), %d dependencies\n", len(m.Sources), len(m.AllEntries()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
