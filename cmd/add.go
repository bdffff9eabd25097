package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	"github.com/spf13/cobra"
)

var (
	addTool     string
	addTarget   string
	addFilename string
	addForce    bool
	addNoInstall bool
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a source or dependency to agpm.toml",
}

var addSourceCmd = &cobra.Command{
	Use:   "source <name> <url>",
	Short: "Register a named git source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := agpmmanifest.Load(manifestPathFlag)
		if err != nil {
			return err
		}
		name, url := args[0], args[1]
		if _, exists := m.GetSource(name); exists && !addForce {
			return fmt.Errorf("source %q already exists (use --force to overwrite)", name)
		}
		m.AddSource(name, agpmmanifest.Source{URL: url})
		return m.Save(manifestPathFlag)
	},
}

func addKindCmd(use string, kind agpmmanifest.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name> <spec>",
		Short: fmt.Sprintf("Add a %s dependency", strings.TrimSuffix(use, "s")),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return addDependency(cmd.Context(), kind, args[0], args[1])
		},
	}
}

func addDependency(ctx context.Context, kind agpmmanifest.Kind, name, spec string) error {
	m, err := agpmmanifest.Load(manifestPathFlag)
	if err != nil {
		return err
	}

	if _, err := agpmmanifest.ParseDepSpec(spec); err != nil {
		return err
	}

	if _, exists := m.Entries(kind)[name]; exists && !addForce {
		return fmt.Errorf("%s.%s already exists (use --force to overwrite)", kind, name)
	}

	dep := agpmmanifest.Dependency{
		Spec:     spec,
		Tool:     addTool,
		Target:   addTarget,
		Filename: addFilename,
	}
	if addNoInstall {
		install := false
		dep.Install = &install
	}

	m.AddDependency(kind, name, dep)
	if err := m.Save(manifestPathFlag); err != nil {
		return err
	}

	if addNoInstall {
		return nil
	}
	return runInstall(ctx, nil)
}

func init() {
	addCmd.PersistentFlags().StringVar(&addTool, "tool", "", "override the manifest's default_tool for this entry")
	addCmd.PersistentFlags().StringVar(&addTarget, "target", "", "override the tool's default install directory")
	addCmd.PersistentFlags().StringVar(&addFilename, "filename", "", "override the installed file's base name")
	addCmd.PersistentFlags().BoolVar(&addForce, "force", false, "overwrite an existing entry of the same name")
	addCmd.PersistentFlags().BoolVar(&addNoInstall, "no-install", false, "record the entry with install = false and skip resolving and installing")

	addCmd.AddCommand(addSourceCmd)
	addCmd.AddCommand(addKindCmd("agent", agpmmanifest.KindAgent))
	addCmd.AddCommand(addKindCmd("snippet", agpmmanifest.KindSnippet))
	addCmd.AddCommand(addKindCmd("command", agpmmanifest.KindCommand))
	addCmd.AddCommand(addKindCmd("script", agpmmanifest.KindScript))
	addCmd.AddCommand(addKindCmd("hook", agpmmanifest.KindHook))
	addCmd.AddCommand(addKindCmd("mcp-server", agpmmanifest.KindMCPServer))
	addCmd.AddCommand(addKindCmd("skill", agpmmanifest.KindSkill))

	rootCmd.AddCommand(addCmd)
}
