// Package finalize runs the last stage of an install: wiring locked
// hook and MCP server resources into each downstream tool's own config
// (pkg/toolhandlers), writing agpm.lock/agpm.private.lock, rewriting
// the project .gitignore authoritatively, and removing artifacts of
// resources that disappeared from the new lockfile.
package finalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/agpm-dev/agpm/pkg/agpmlock"
	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
	"github.com/agpm-dev/agpm/pkg/frontmatter"
	"github.com/agpm-dev/agpm/pkg/installer"
	"github.com/agpm-dev/agpm/pkg/toolhandlers"
)

// Cache is the subset of *cache.Cache finalize needs to read hook and
// MCP server resource content from a pinned worktree.
type Cache interface {
	GetOrCreateWorktreeForSHA(ctx context.Context, url, sha string) (string, error)
}

// SourceResolver looks a manifest source up by name.
type SourceResolver interface {
	GetSource(name string) (agpmmanifest.Source, bool)
}

// Finalizer completes an install run for one project directory.
type Finalizer struct {
	ProjectDir  string
	Cache       Cache
	Sources     SourceResolver
	Handlers    *toolhandlers.Registry
	DefaultTool string
}

// New builds a Finalizer with a default toolhandlers registry.
func New(projectDir string, cache Cache, sources SourceResolver, defaultTool string) *Finalizer {
	return &Finalizer{
		ProjectDir:  projectDir,
		Cache:       cache,
		Sources:     sources,
		Handlers:    toolhandlers.NewRegistry(),
		DefaultTool: defaultTool,
	}
}

// Summary reports what a Finalize run changed.
type Summary struct {
	HooksConfigured      int
	MCPServersConfigured int
	ArtifactsRemoved     []string
}

// Finalize wires hooks and MCP servers from lf into their tools,
// writes lf (and any private overlay) to disk, rewrites .gitignore
// authoritatively from installedPaths, and removes any previously
// installed artifact no longer present in installedPaths.
func (f *Finalizer) Finalize(ctx context.Context, lf *agpmlock.Lockfile, previous *agpmlock.Lockfile, installedPaths []string) (Summary, error) {
	var summary Summary

	hookCount, err := f.wireHooks(ctx, lf)
	if err != nil {
		return summary, err
	}
	summary.HooksConfigured = hookCount

	mcpCount, err := f.wireMCPServers(ctx, lf)
	if err != nil {
		return summary, err
	}
	summary.MCPServersConfigured = mcpCount

	priv := splitPrivatePatches(lf)
	if err := agpmlock.SavePrivate(f.ProjectDir, priv); err != nil {
		return summary, err
	}

	if err := lf.Save(f.ProjectDir); err != nil {
		return summary, err
	}

	removed, err := f.cleanupArtifacts(previous, lf)
	if err != nil {
		return summary, err
	}
	summary.ArtifactsRemoved = removed

	if err := installer.RewriteGitignore(f.ProjectDir, installedPaths); err != nil {
		return summary, err
	}

	return summary, nil
}

// splitPrivatePatches separates each locked resource's private-sourced
// patches from its project-sourced ones in place: lf's entries keep only
// the project subset (the only one that belongs in the public agpm.lock),
// and the private subset is returned as a Lockfile ready for SavePrivate.
func splitPrivatePatches(lf *agpmlock.Lockfile) *agpmlock.Lockfile {
	priv := &agpmlock.Lockfile{Version: lf.Version, PrivatePatches: map[string]agpmlock.ResourcePatches{}}

	for _, kind := range agpmmanifest.AllKinds {
		entries := lf.Entries(kind)
		for i := range entries {
			privateOnly := entries[i].OnlyPrivatePatches()
			if len(privateOnly) > 0 {
				priv.PrivatePatches[string(kind)+"."+entries[i].Name] = agpmlock.ResourcePatches{Patches: privateOnly}
			}
			entries[i].AppliedPatches = entries[i].ProjectPatches()
		}
		lf.SetEntries(kind, entries)
	}

	if len(priv.PrivatePatches) == 0 {
		priv.PrivatePatches = nil
	}
	return priv
}

// wireHooks reads every locked hook resource's content, parses it into
// a toolhandlers.HookEntry, groups entries by tool, and configures each
// tool's handler once with its full set.
func (f *Finalizer) wireHooks(ctx context.Context, lf *agpmlock.Lockfile) (int, error) {
	byTool := map[string][]toolhandlers.HookEntry{}

	for _, locked := range lf.Entries(agpmmanifest.KindHook) {
		content, err := f.readResource(ctx, locked)
		if err != nil {
			return 0, err
		}
		entry, err := parseHookEntry(locked.Name, content)
		if err != nil {
			return 0, err
		}
		tool := locked.Tool
		if tool == "" {
			tool = f.DefaultTool
		}
		byTool[tool] = append(byTool[tool], entry)
	}

	configured := 0
	for toolName, entries := range byTool {
		handler, err := f.handlerFor(toolName)
		if err != nil {
			return 0, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		if err := handler.ConfigureHooks(f.ProjectDir, entries); err != nil {
			return 0, err
		}
		configured += len(entries)
	}
	return configured, nil
}

// wireMCPServers mirrors wireHooks for MCP server resources.
func (f *Finalizer) wireMCPServers(ctx context.Context, lf *agpmlock.Lockfile) (int, error) {
	byTool := map[string][]toolhandlers.MCPServerEntry{}

	for _, locked := range lf.Entries(agpmmanifest.KindMCPServer) {
		content, err := f.readResource(ctx, locked)
		if err != nil {
			return 0, err
		}
		entry, err := parseMCPServerEntry(locked.Name, content)
		if err != nil {
			return 0, err
		}
		tool := locked.Tool
		if tool == "" {
			tool = f.DefaultTool
		}
		byTool[tool] = append(byTool[tool], entry)
	}

	configured := 0
	for toolName, entries := range byTool {
		handler, err := f.handlerFor(toolName)
		if err != nil {
			return 0, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		if err := handler.ConfigureMCPServers(f.ProjectDir, entries); err != nil {
			return 0, err
		}
		configured += len(entries)
	}
	return configured, nil
}

func (f *Finalizer) handlerFor(toolName string) (toolhandlers.Handler, error) {
	h, ok := f.Handlers.Get(toolName)
	if !ok {
		return nil, agpmerrors.Tool(fmt.Errorf("no hook/MCP handler registered for tool %q", toolName), "wiring hooks and MCP servers")
	}
	return h, nil
}

func (f *Finalizer) readResource(ctx context.Context, locked agpmlock.LockedResource) ([]byte, error) {
	if locked.Source == "" {
		return os.ReadFile(filepath.Join(f.ProjectDir, locked.Path))
	}
	src, ok := f.Sources.GetSource(locked.Source)
	if !ok {
		return nil, agpmerrors.Resolution(fmt.Errorf("source %q is not defined", locked.Source), "reading hook/MCP resource")
	}
	worktree, err := f.Cache.GetOrCreateWorktreeForSHA(ctx, src.URL, locked.SHA)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(worktree, locked.Path))
}

// parseHookEntry reads a hook resource's YAML frontmatter for the
// event and command fields, same convention as a dependency's
// `dependencies:` list (pkg/depgraph): plain markdown frontmatter,
// nothing bespoke.
func parseHookEntry(name string, content []byte) (toolhandlers.HookEntry, error) {
	fm, err := frontmatter.Parse(content)
	if err != nil {
		return toolhandlers.HookEntry{}, agpmerrors.Resource(err, fmt.Sprintf("parsing hook %q", name))
	}
	if fm == nil {
		return toolhandlers.HookEntry{}, agpmerrors.Resource(fmt.Errorf("hook %q has no frontmatter", name), "parsing hook")
	}
	event := fm.GetString("event")
	command := fm.GetString("command")
	if event == "" || command == "" {
		return toolhandlers.HookEntry{}, agpmerrors.Resource(fmt.Errorf("hook %q is missing event or command", name), "parsing hook")
	}
	return toolhandlers.HookEntry{Name: name, Event: event, Command: command}, nil
}

// parseMCPServerEntry mirrors parseHookEntry for MCP server resources:
// command, args (string list), env (string map).
func parseMCPServerEntry(name string, content []byte) (toolhandlers.MCPServerEntry, error) {
	fm, err := frontmatter.Parse(content)
	if err != nil {
		return toolhandlers.MCPServerEntry{}, agpmerrors.Resource(err, fmt.Sprintf("parsing mcp-server %q", name))
	}
	if fm == nil {
		return toolhandlers.MCPServerEntry{}, agpmerrors.Resource(fmt.Errorf("mcp-server %q has no frontmatter", name), "parsing mcp-server")
	}
	command := fm.GetString("command")
	if command == "" {
		return toolhandlers.MCPServerEntry{}, agpmerrors.Resource(fmt.Errorf("mcp-server %q is missing command", name), "parsing mcp-server")
	}

	var args []string
	if raw, ok := fm.Fields["args"].([]interface{}); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	env := map[string]string{}
	if raw, ok := fm.Fields["env"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				env[k] = s
			}
		}
	}

	return toolhandlers.MCPServerEntry{Name: name, Command: command, Args: args, Env: env}, nil
}

// cleanupArtifacts removes files that previous installed but lf no
// longer names, then prunes any parent directory left empty up to (but
// not including) the tool's base directory (the first component of
// installed_at, e.g. .claude).
func (f *Finalizer) cleanupArtifacts(previous, lf *agpmlock.Lockfile) ([]string, error) {
	if previous == nil {
		return nil, nil
	}

	keep := map[string]bool{}
	for _, e := range lf.AllEntries() {
		if e.Resource.InstalledAt != "" {
			keep[e.Resource.InstalledAt] = true
		}
	}

	var removed []string
	for _, e := range previous.AllEntries() {
		path := e.Resource.InstalledAt
		if path == "" || keep[path] {
			continue
		}
		full := filepath.Join(f.ProjectDir, path)
		info, err := os.Lstat(full)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return removed, agpmerrors.Filesystem(err, "checking stale artifact")
		}

		if info.IsDir() {
			if err := os.RemoveAll(full); err != nil {
				return removed, agpmerrors.Filesystem(err, "removing stale skill directory")
			}
		} else if err := os.Remove(full); err != nil {
			return removed, agpmerrors.Filesystem(err, "removing stale artifact")
		}
		removed = append(removed, path)
		toolBase := filepath.Dir(filepath.FromSlash(path))
		for filepath.Dir(toolBase) != "." {
			toolBase = filepath.Dir(toolBase)
		}
		pruneEmptyParents(filepath.Join(f.ProjectDir, toolBase), filepath.Dir(full))
	}

	sort.Strings(removed)
	return removed, nil
}

// pruneEmptyParents removes dir and its ancestors while they are empty,
// stopping at (and never removing) stopDir.
func pruneEmptyParents(stopDir, dir string) {
	for {
		if dir == stopDir || dir == "." || dir == string(filepath.Separator) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
