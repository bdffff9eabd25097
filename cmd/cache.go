package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the git worktree cache",
}

var cacheSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Report the cache's total on-disk size",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(manifestPathFlag, maxParallelFlag)
		if err != nil {
			return err
		}
		size, err := app.cache.GetCacheSize()
		if err != nil {
			return err
		}
		fmt.Printf("%.2f MB\n", float64(size)/(1024*1024))
		return nil
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every cached worktree, keeping bare repository clones",
	Long: `clean removes every registered cached worktree and keeps the bare
repository clones intact. It does not read agpm.lock, so worktrees that a
lockfile still pins are removed as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(manifestPathFlag, maxParallelFlag)
		if err != nil {
			return err
		}
		return app.cache.CleanupAllWorktrees(cmd.Context())
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the entire cache, including bare repository clones",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppContext(manifestPathFlag, maxParallelFlag)
		if err != nil {
			return err
		}
		return app.cache.ClearAll(cmd.Context())
	},
}

func init() {
	cacheCmd.AddCommand(cacheSizeCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
