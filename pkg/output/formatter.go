package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents an output format type
type Format string

const (
	Table Format = "table"
	JSON  Format = "json"
	YAML  Format = "yaml"
)

// ParseFormat parses a format string into a Format type
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table":
		return Table, nil
	case "json":
		return JSON, nil
	case "yaml":
		return YAML, nil
	default:
		return "", fmt.Errorf("invalid format: %s (valid: table, json, yaml)", s)
	}
}

// ResourceResult reports the outcome of installing or updating a single
// locked resource, independent of what format the caller renders it in.
type ResourceResult struct {
	Kind      string `json:"kind" yaml:"kind"`
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"` // "installed", "unchanged", "failed"
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
	Installed int    `json:"-" yaml:"-"` // not set or read; AddResult counts by Status
}

// InstallReport is the top-level result of an install or update run,
// covering every resource the resolver and installer touched plus the
// finalizer's hook/MCP-server wiring counts.
type InstallReport struct {
	Resources            []ResourceResult `json:"resources" yaml:"resources"`
	InstalledCount       int              `json:"installed_count" yaml:"installed_count"`
	UnchangedCount       int              `json:"unchanged_count" yaml:"unchanged_count"`
	FailedCount          int              `json:"failed_count" yaml:"failed_count"`
	HooksConfigured      int              `json:"hooks_configured" yaml:"hooks_configured"`
	MCPServersConfigured int              `json:"mcp_servers_configured" yaml:"mcp_servers_configured"`
}

// AddResult appends a resource outcome and keeps the summary counts in sync.
func (r *InstallReport) AddResult(kind, name, status, message string) {
	r.Resources = append(r.Resources, ResourceResult{Kind: kind, Name: name, Status: status, Message: message})
	switch status {
	case "installed":
		r.InstalledCount++
	case "unchanged":
		r.UnchangedCount++
	case "failed":
		r.FailedCount++
	}
}

// FormatInstallReport renders r to stdout according to format.
func FormatInstallReport(r *InstallReport, format Format) error {
	switch format {
	case Table:
		return formatReportAsTable(r)
	case JSON:
		return encodeJSON(os.Stdout, r)
	case YAML:
		return encodeYAML(os.Stdout, r)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func formatReportAsTable(r *InstallReport) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("RESOURCE", "STATUS", "MESSAGE")

	for _, res := range r.Resources {
		message := res.Message
		if message == "" {
			switch res.Status {
			case "installed":
				message = "installed"
			case "unchanged":
				message = "already up to date"
			case "failed":
				message = "failed"
			}
		}
		if err := table.Append(fmt.Sprintf("%s/%s", res.Kind, res.Name), colorizeStatus(res.Status), message); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	if len(r.Resources) > 0 {
		if err := table.Render(); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}
		fmt.Println()
	}

	total := r.InstalledCount + r.UnchangedCount + r.FailedCount
	if total == 0 {
		fmt.Println("No resources to install")
	} else {
		summary := fmt.Sprintf("Summary: %d installed, %d unchanged, %d failed (%d total)",
			r.InstalledCount, r.UnchangedCount, r.FailedCount, total)
		if r.FailedCount > 0 {
			summary = color.RedString(summary)
		} else if r.InstalledCount > 0 {
			summary = color.GreenString(summary)
		}
		fmt.Println(summary)
	}
	if r.HooksConfigured > 0 || r.MCPServersConfigured > 0 {
		fmt.Printf("Configured %d hook(s), %d MCP server(s)\n", r.HooksConfigured, r.MCPServersConfigured)
	}

	if r.FailedCount > 0 {
		fmt.Println()
		fmt.Println("Use --format=json to see detailed error messages")
	}

	return nil
}

func colorizeStatus(status string) string {
	label := strings.ToUpper(status)
	switch status {
	case "installed":
		return color.GreenString(label)
	case "failed":
		return color.RedString(label)
	default:
		return color.YellowString(label)
	}
}

func encodeJSON(w *os.File, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func encodeYAML(w *os.File, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(v)
}
