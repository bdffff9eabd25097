package cmd

import (
	"fmt"
	"os"

	"github.com/agpm-dev/agpm/pkg/version"
	"github.com/spf13/cobra"
)

var (
	manifestPathFlag string
	maxParallelFlag   int
	quietFlag         bool
	noProgressFlag    bool
	formatFlag        string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "agpm",
	Short: "A Git-backed package manager for AI coding assistant resources",
	Long: `agpm installs agents, snippets, commands, scripts, hooks, MCP
servers, and skills into a project from pinned Git sources, the same
way a language package manager pins library versions: a manifest
(agpm.toml) declares what you want, a lockfile (agpm.lock) pins exactly
what you got, and install/update reproduce it byte-for-byte.`,
	Version: version.GetVersion(),
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to
// happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&manifestPathFlag, "manifest-path", ".", "directory containing agpm.toml")
	rootCmd.PersistentFlags().IntVar(&maxParallelFlag, "max-parallel", 0, "max concurrent installs (0 = default: max(10, 2*cores))")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noProgressFlag, "no-progress", false, "disable progress reporting")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "table", "output format: table, json, yaml")

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s\n", version.GetVersion()))
}
