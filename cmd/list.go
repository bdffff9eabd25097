package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/agpm-dev/agpm/pkg/agpmlock"
	"github.com/agpm-dev/agpm/pkg/output"
	"github.com/spf13/cobra"
)

type listRow struct {
	Kind        string `json:"kind" yaml:"kind"`
	Name        string `json:"name" yaml:"name"`
	Source      string `json:"source,omitempty" yaml:"source,omitempty"`
	SHA         string `json:"sha,omitempty" yaml:"sha,omitempty"`
	InstalledAt string `json:"installed_at,omitempty" yaml:"installed_at,omitempty"`
}

var listCmd *cobra.Command

func init() {
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List every resource pinned in agpm.lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			lf, err := agpmlock.Load(manifestPathFlag)
			if err != nil {
				return err
			}

			var rows []listRow
			for _, e := range lf.AllEntries() {
				rows = append(rows, listRow{
					Kind:        string(e.Kind),
					Name:        e.Resource.Name,
					Source:      e.Resource.Source,
					SHA:         e.Resource.SHA,
					InstalledAt: e.Resource.InstalledAt,
				})
			}

			format, err := output.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			return renderList(rows, format)
		},
	}
	rootCmd.AddCommand(listCmd)
}

func renderList(rows []listRow, format output.Format) error {
	switch format {
	case output.JSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case output.YAML:
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(rows)
	default:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("KIND", "NAME", "SOURCE", "SHA", "INSTALLED AT")
		for _, r := range rows {
			sha := r.SHA
			if len(sha) > 8 {
				sha = sha[:8]
			}
			if err := table.Append(r.Kind, r.Name, r.Source, sha, r.InstalledAt); err != nil {
				return err
			}
		}
		if len(rows) == 0 {
			fmt.Println("No resources locked; run `agpm install` first.")
			return nil
		}
		return table.Render()
	}
}
