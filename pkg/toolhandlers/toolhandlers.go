// Package toolhandlers wires hook and MCP server dependency entries into
// the downstream tool's own config format. It exposes only the narrow
// interface the finalizer needs (configure hooks, configure MCP
// servers): full schema awareness for any one tool's config format
// lives entirely behind that interface, never leaking into the
// resolver or installer.
package toolhandlers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
	"github.com/agpm-dev/agpm/pkg/tools"
)

// HookEntry is one locked hook dependency ready to be merged into a
// tool's sidecar config.
type HookEntry struct {
	Name    string
	Event   string // e.g. "PreToolUse", "PostToolUse"
	Command string
}

// MCPServerEntry is one locked MCP server dependency ready to be merged
// into a tool's sidecar config.
type MCPServerEntry struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// Handler configures one downstream tool's sidecar config files.
type Handler interface {
	// Name identifies the handler for error messages and logging.
	Name() string
	// ConfigureHooks merges hooks into the tool's config under projectDir,
	// replacing any previously agpm-managed hook entries.
	ConfigureHooks(projectDir string, hooks []HookEntry) error
	// ConfigureMCPServers merges servers into the tool's config under
	// projectDir, replacing any previously agpm-managed entries.
	ConfigureMCPServers(projectDir string, servers []MCPServerEntry) error
}

// managedMarker tags entries this tool wrote, so a later finalize run
// can tell an agpm-managed entry apart from one the user added by hand.
const managedMarker = "agpm-managed"

// Registry looks up a Handler by tool name.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds the default registry covering Claude Code and OpenCode;
// Copilot has no hook or MCP sidecar config and gets no handler.
func NewRegistry() *Registry {
	r := &Registry{handlers: map[string]Handler{}}
	r.Register(NewClaudeCodeHandler())
	r.Register(NewOpenCodeHandler())
	return r
}

// Register adds or replaces a handler.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Get looks up a handler by tool name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// --- Claude Code ---

// claudeSettings models the subset of .claude/settings.json that agpm owns.
type claudeSettings struct {
	Hooks map[string][]claudeHookBinding `json:"hooks,omitempty"`
	Raw   map[string]interface{}         `json:"-"`
}

type claudeHookBinding struct {
	Matcher string       `json:"matcher,omitempty"`
	Hooks   []claudeHook `json:"hooks"`
}

type claudeHook struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Managed string `json:"agpm_managed,omitempty"`
}

// ClaudeCodeHandler configures .claude/settings.json (hooks) and
// .mcp.json (MCP servers) for Claude Code.
type ClaudeCodeHandler struct{}

func NewClaudeCodeHandler() *ClaudeCodeHandler { return &ClaudeCodeHandler{} }

func (h *ClaudeCodeHandler) Name() string { return "claude-code" }

func (h *ClaudeCodeHandler) ConfigureHooks(projectDir string, hooks []HookEntry) error {
	info := tools.GetToolInfo(tools.Claude)
	path := filepath.Join(projectDir, info.HooksConfigPath)

	raw, err := readJSONObject(path)
	if err != nil {
		return err
	}

	managed := map[string][]claudeHookBinding{}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].Name < hooks[j].Name })
	for _, entry := range hooks {
		managed[entry.Event] = append(managed[entry.Event], claudeHookBinding{
			Hooks: []claudeHook{{Type: "command", Command: entry.Command, Managed: managedMarker}},
		})
	}

	existingHooks, _ := raw["hooks"].(map[string]interface{})
	merged := mergeManagedHookEvents(existingHooks, managed)
	raw["hooks"] = merged

	return writeJSONObject(path, raw)
}

func (h *ClaudeCodeHandler) ConfigureMCPServers(projectDir string, servers []MCPServerEntry) error {
	info := tools.GetToolInfo(tools.Claude)
	path := filepath.Join(projectDir, info.MCPConfigPath)
	return mergeMCPServers(path, servers)
}

// --- OpenCode ---

// OpenCodeHandler configures .opencode/mcp.json for OpenCode. OpenCode
// has no hook mechanism of its own (tools.ToolInfo.SupportsHooks is
// false for it); ConfigureHooks does nothing for an empty list and
// returns a Tool error otherwise.
type OpenCodeHandler struct{}

func NewOpenCodeHandler() *OpenCodeHandler { return &OpenCodeHandler{} }

func (h *OpenCodeHandler) Name() string { return "opencode" }

func (h *OpenCodeHandler) ConfigureHooks(projectDir string, hooks []HookEntry) error {
	if len(hooks) == 0 {
		return nil
	}
	return agpmerrors.Tool(fmt.Errorf("opencode has no hook mechanism"), "configuring hooks")
}

func (h *OpenCodeHandler) ConfigureMCPServers(projectDir string, servers []MCPServerEntry) error {
	info := tools.GetToolInfo(tools.OpenCode)
	path := filepath.Join(projectDir, info.MCPConfigPath)
	return mergeMCPServers(path, servers)
}

// --- shared helpers ---

type mcpServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Managed string            `json:"agpm_managed,omitempty"`
}

func mergeMCPServers(path string, servers []MCPServerEntry) error {
	raw, err := readJSONObject(path)
	if err != nil {
		return err
	}

	existing, _ := raw["mcpServers"].(map[string]interface{})
	if existing == nil {
		existing = map[string]interface{}{}
	}

	// Drop any entries this tool previously managed before re-adding the
	// current set, so removed manifest dependencies disappear too.
	for name, v := range existing {
		if obj, ok := v.(map[string]interface{}); ok {
			if marker, _ := obj["agpm_managed"].(string); marker == managedMarker {
				delete(existing, name)
			}
		}
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	for _, s := range servers {
		existing[s.Name] = mcpServerConfig{
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
			Managed: managedMarker,
		}
	}

	raw["mcpServers"] = existing
	return writeJSONObject(path, raw)
}

func mergeManagedHookEvents(existing map[string]interface{}, managed map[string][]claudeHookBinding) map[string]interface{} {
	out := map[string]interface{}{}
	for event, v := range existing {
		if _, isManagedEvent := managed[event]; isManagedEvent {
			continue // fully replaced below
		}
		out[event] = v
	}
	for event, bindings := range managed {
		out[event] = bindings
	}
	return out
}

func readJSONObject(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, agpmerrors.Filesystem(err, fmt.Sprintf("reading %s", path))
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, agpmerrors.Validation(err, fmt.Sprintf("parsing %s", path))
	}
	return out, nil
}

func writeJSONObject(path string, obj map[string]interface{}) error {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return agpmerrors.Validation(err, "encoding tool config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return agpmerrors.Filesystem(err, "creating tool config directory")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return agpmerrors.Filesystem(err, "creating temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "writing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "closing temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "renaming temp file")
	}
	return nil
}
