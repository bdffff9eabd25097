package cmd

import (
	"context"
	"fmt"

	"github.com/agpm-dev/agpm/pkg/agpmlock"
	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	"github.com/agpm-dev/agpm/pkg/finalize"
	"github.com/agpm-dev/agpm/pkg/installer"
	"github.com/agpm-dev/agpm/pkg/output"
	"github.com/agpm-dev/agpm/pkg/resolve"
	"github.com/spf13/cobra"
)

var (
	installFrozenFlag bool
	installCheckFlag  bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Resolve the manifest and install every dependency",
	Long: `install resolves agpm.toml against its sources into a fresh
lockfile, installs every resource into its tool's directory, wires
hooks and MCP servers, and writes agpm.lock.

With --frozen, agpm.lock is treated as authoritative: the manifest is
not re-resolved, and the command fails if agpm.lock is missing or has
no entries. The manifest is not compared against agpm.lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd.Context(), nil)
	},
	Args: cobra.NoArgs,
}

func init() {
	installCmd.Flags().BoolVar(&installFrozenFlag, "frozen", false, "install exactly what agpm.lock pins, never re-resolving")
	installCmd.Flags().BoolVar(&installCheckFlag, "check", false, "exit 1 if installing would change anything, without writing")
	rootCmd.AddCommand(installCmd)
}

// runInstall implements both `install` and `update`: allowNames nil or
// empty means "resolve every manifest entry fresh"; a non-empty list
// names the dependencies update should be allowed to move, by their
// manifest key (e.g. "reviewer"), resolved against every kind table.
func runInstall(ctx context.Context, allowNames []string) error {
	app, err := newAppContext(manifestPathFlag, maxParallelFlag)
	if err != nil {
		return err
	}

	previous, err := agpmlock.Load(app.projectDir)
	if err != nil {
		return err
	}

	allowList, err := resolveAllowList(app.manifest, allowNames)
	if err != nil {
		return err
	}

	var lf *agpmlock.Lockfile
	if installFrozenFlag {
		if len(previous.AllEntries()) == 0 {
			return fmt.Errorf("--frozen requires an existing agpm.lock")
		}
		lf = previous
	} else {
		resolver := &resolve.Resolver{
			Manifest:  app.manifest,
			Cache:     app.cache,
			Driver:    app.driver,
			AllowList: allowList,
			Previous:  previous,
		}
		lf, err = resolver.Resolve(ctx)
		if err != nil {
			return err
		}
	}

	in := &installer.Installer{
		ProjectDir:  app.projectDir,
		Cache:       app.cache,
		Sources:     app.manifest,
		Previous:    previous,
		MaxParallel: app.maxParallel,
		DefaultTool: app.defaultTool(),
	}

	if installCheckFlag {
		changed := lockfileChanged(previous, lf)
		if changed {
			return fmt.Errorf("updates are available (run without --check to apply)")
		}
		if !quietFlag {
			fmt.Println("Up to date; nothing to install.")
		}
		return nil
	}

	results, err := in.InstallAll(ctx, lf)
	installErr := err // collected below into the report, not returned early

	installedPaths := applyInstallResults(lf, results)

	f := finalize.New(app.projectDir, app.cache, app.manifest, app.defaultTool())
	summary, finalizeErr := f.Finalize(ctx, lf, previous, installedPaths)

	report := buildInstallReport(results, summary)
	format, parseErr := output.ParseFormat(formatFlag)
	if parseErr != nil {
		format = output.Table
	}
	if !quietFlag {
		if err := output.FormatInstallReport(report, format); err != nil {
			return err
		}
	}

	if installErr != nil {
		return installErr
	}
	return finalizeErr
}

// resolveAllowList turns bare dependency names from the command line
// into the kind-qualified keys resolve.Resolver.AllowList expects,
// erroring on any name not present in any kind table.
func resolveAllowList(m *agpmmanifest.Manifest, names []string) (map[string]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}

	allow := make(map[string]bool, len(names))
	for _, name := range names {
		found := false
		for _, kind := range agpmmanifest.AllKinds {
			if _, ok := m.Entries(kind)[name]; ok {
				allow[string(kind)+"."+name] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("no dependency named %q in agpm.toml", name)
		}
	}
	return allow, nil
}

// applyInstallResults copies each install Result's Dest/Checksum back
// onto the lockfile's matching entry before it is saved, and returns
// the full set of installed_at paths RewriteGitignore should keep.
func applyInstallResults(lf *agpmlock.Lockfile, results []installer.Result) []string {
	byKind := map[string]map[string]installer.Result{}
	for _, r := range results {
		m := byKind[string(r.Kind)]
		if m == nil {
			m = map[string]installer.Result{}
			byKind[string(r.Kind)] = m
		}
		m[r.Name] = r
	}

	var installedPaths []string
	for kind, names := range byKind {
		k := agpmlock.Kind(kind)
		entries := lf.Entries(k)
		for i := range entries {
			res, ok := names[entries[i].Name]
			if !ok || res.Err != nil {
				continue
			}
			entries[i].Checksum = res.Checksum
			entries[i].ContextChecksum = res.ContextChecksum
			entries[i].AppliedPatches = res.AppliedPatches
			if entries[i].ShouldInstall() {
				entries[i].InstalledAt = res.Dest
				if res.Dest != "" {
					installedPaths = append(installedPaths, res.Dest)
				}
			}
		}
		lf.SetEntries(k, entries)
	}
	return installedPaths
}

func buildInstallReport(results []installer.Result, summary finalize.Summary) *output.InstallReport {
	r := &output.InstallReport{
		HooksConfigured:      summary.HooksConfigured,
		MCPServersConfigured: summary.MCPServersConfigured,
	}
	for _, res := range results {
		status := "unchanged"
		message := ""
		if res.Err != nil {
			status = "failed"
			message = res.Err.Error()
		} else if res.Installed {
			status = "installed"
		}
		r.AddResult(string(res.Kind), res.Name, status, message)
	}
	return r
}

// lockfileChanged reports whether resolving again produced any SHA or
// entry-set difference from previous, used by --check.
func lockfileChanged(previous, fresh *agpmlock.Lockfile) bool {
	prevAll := previous.AllEntries()
	freshAll := fresh.AllEntries()
	if len(prevAll) != len(freshAll) {
		return true
	}
	prevByKey := map[string]string{}
	for _, e := range prevAll {
		prevByKey[string(e.Kind)+"."+e.Resource.Name] = e.Resource.SHA
	}
	for _, e := range freshAll {
		sha, ok := prevByKey[string(e.Kind)+"."+e.Resource.Name]
		if !ok || sha != e.Resource.SHA {
			return true
		}
	}
	return false
}
