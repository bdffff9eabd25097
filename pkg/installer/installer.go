// Package installer materializes a resolved lockfile onto disk:
// pre-warming every worktree the lockfile touches, then running each
// resource through a per-entry pipeline (early-exit check, read,
// validate, patch, render, checksum, write, gitignore update) with
// bounded parallelism.
//
// Concurrency is built on github.com/sourcegraph/conc's generic result
// pool, the same controlled-concurrency pattern the wider example
// corpus uses for parallel downloads (pool.NewWithResults[T] +
// WithMaxGoroutines), applied here to per-resource install tasks
// instead of per-run artifact downloads.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"github.com/agpm-dev/agpm/pkg/agpmlock"
	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
	"github.com/agpm-dev/agpm/pkg/render"
	"github.com/agpm-dev/agpm/pkg/tools"
)

// Cache is the subset of *cache.Cache the installer depends on.
type Cache interface {
	GetOrCreateWorktreeForSHA(ctx context.Context, url, sha string) (string, error)
}

// SourceResolver looks a manifest source up by name, as needed to turn
// a locked resource's Source name back into a clone URL, and resolves
// the ordered patch list (project, then private) declared for one
// resource's file.
type SourceResolver interface {
	GetSource(name string) (agpmmanifest.Source, bool)
	PatchesFor(kind agpmmanifest.Kind, lookupName, filePath string) ([]agpmmanifest.PatchApplication, error)
}

// DefaultMaxParallel follows spec.md §5: max(10, 2*cores).
func DefaultMaxParallel() int {
	n := 2 * runtime.NumCPU()
	if n < 10 {
		return 10
	}
	return n
}

// Installer installs one lockfile's resources into a project directory.
type Installer struct {
	ProjectDir  string
	Cache       Cache
	Sources     SourceResolver
	Previous    *agpmlock.Lockfile // for early-exit comparisons; nil on first install
	MaxParallel int
	DefaultTool string
}

// Result reports the outcome of installing one locked resource.
type Result struct {
	Kind            agpmmanifest.Kind
	Name            string
	Dest            string // project-relative install path, for lockfile InstalledAt and cleanup
	Installed       bool
	Checksum        string
	ContextChecksum string
	AppliedPatches  []agpmlock.AppliedPatch
	Err             error
}

type workItem struct {
	kind     agpmmanifest.Kind
	resource agpmlock.LockedResource
}

// InstallAll runs the pre-warm + per-resource pipeline over every
// entry in lf, returning one Result per resource, sorted by kind, then name.
// Any per-resource error is collected, not fatal to the batch; the
// returned error is non-nil only when at least one resource failed,
// and wraps the first failure for %w-compatible inspection while every
// failure is still visible via the per-result Err fields.
func (in *Installer) InstallAll(ctx context.Context, lf *agpmlock.Lockfile) ([]Result, error) {
	items := collectWorkItems(lf)

	if err := in.preWarm(ctx, items); err != nil {
		return nil, fmt.Errorf("pre-warming worktrees: %w", err)
	}

	maxParallel := in.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel()
	}

	p := pool.NewWithResults[Result]().WithMaxGoroutines(maxParallel)
	for _, item := range items {
		item := item
		p.Go(func() Result {
			res := in.installOne(ctx, item)
			res.Kind = item.kind
			res.Name = item.resource.Name
			return res
		})
	}
	results := p.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Kind != results[j].Kind {
			return results[i].Kind < results[j].Kind
		}
		return results[i].Name < results[j].Name
	})

	var firstErr error
	for _, r := range results {
		if r.Err != nil && firstErr == nil {
			firstErr = r.Err
		}
	}
	if firstErr != nil {
		return results, fmt.Errorf("one or more resources failed to install: %w", firstErr)
	}
	return results, nil
}

func collectWorkItems(lf *agpmlock.Lockfile) []workItem {
	var items []workItem
	for _, kind := range agpmmanifest.AllKinds {
		for _, r := range lf.Entries(kind) {
			items = append(items, workItem{kind: kind, resource: r})
		}
	}
	return items
}

// preWarm collects the distinct (url, sha) pairs referenced by items
// and creates every worktree before any resource is written, so
// worktree-creation contention never sits on the per-resource critical path.
func (in *Installer) preWarm(ctx context.Context, items []workItem) error {
	type key struct{ url, sha string }
	seen := map[key]bool{}
	var keys []key

	for _, item := range items {
		if item.resource.Source == "" {
			continue
		}
		src, ok := in.Sources.GetSource(item.resource.Source)
		if !ok || src.IsLocal() {
			continue
		}
		k := key{url: src.URL, sha: item.resource.SHA}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	maxParallel := in.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel()
	}

	p := pool.New().WithErrors().WithMaxGoroutines(maxParallel)
	for _, k := range keys {
		k := k
		p.Go(func() error {
			_, err := in.Cache.GetOrCreateWorktreeForSHA(ctx, k.url, k.sha)
			return err
		})
	}
	return p.Wait()
}

// installOne runs the nine-step per-resource pipeline from spec.md §4.8.
func (in *Installer) installOne(ctx context.Context, item workItem) Result {
	locked := item.resource

	tool := locked.Tool
	if tool == "" {
		tool = in.DefaultTool
	}

	dest, isSkill, err := in.destination(item.kind, locked, tool)
	if err != nil {
		return Result{Err: err}
	}
	rel := relOrAbs(in.ProjectDir, dest)

	if isSkill {
		res := in.installSkill(ctx, locked, dest)
		res.Dest = rel
		return res
	}

	if locked.Source != "" {
		if skip, prevRes := in.earlyExit(item.kind, locked, dest); skip {
			prevRes.Dest = rel
			return prevRes
		}
	}

	content, err := in.read(ctx, locked, isSkill)
	if err != nil {
		return Result{Err: err}
	}

	patches, err := in.Sources.PatchesFor(item.kind, locked.Name, locked.Path)
	if err != nil {
		return Result{Err: err}
	}
	content, appliedPatches, err := applyPatches(content, locked.Path, patches)
	if err != nil {
		return Result{Err: err}
	}

	rendered, contextChecksum, err := in.renderIfMarkdown(dest, content, tool, locked.TemplateVars)
	if err != nil {
		return Result{Err: err}
	}

	checksum := render.Checksum(rendered)

	if !locked.ShouldInstall() {
		return Result{Installed: false, Checksum: checksum, ContextChecksum: contextChecksum, AppliedPatches: appliedPatches, Dest: rel}
	}

	if err := in.write(dest, rendered); err != nil {
		return Result{Err: err}
	}

	if err := AddPathToGitignore(in.ProjectDir, rel); err != nil {
		return Result{Err: err}
	}

	return Result{Installed: true, Checksum: checksum, ContextChecksum: contextChecksum, AppliedPatches: appliedPatches, Dest: rel}
}

// destination computes the on-disk path per spec.md §4.8 step 1:
// installed_at when present, else resource_dir/name[.md].
func (in *Installer) destination(kind agpmmanifest.Kind, locked agpmlock.LockedResource, toolName string) (path string, isSkill bool, err error) {
	isSkill = kind == agpmmanifest.KindSkill
	if locked.InstalledAt != "" {
		return filepath.Join(in.ProjectDir, filepath.FromSlash(locked.InstalledAt)), isSkill, nil
	}

	t, parseErr := tools.ParseTool(toToolsName(toolName))
	if parseErr != nil {
		return "", false, agpmerrors.Tool(parseErr, "resolving install target tool")
	}
	info := tools.GetToolInfo(t)

	dir := kindDir(info, kind)
	if dir == "" {
		return "", false, agpmerrors.Tool(fmt.Errorf("%s does not support %s", info.Name, kind), "resolving install target")
	}

	filename := locked.Filename
	if filename == "" {
		base := filepath.Base(locked.Name)
		if filepath.Ext(base) == "" && !isSkill {
			base += ".md"
		}
		filename = base
	}

	return filepath.Join(in.ProjectDir, dir, filename), isSkill, nil
}

func kindDir(info tools.ToolInfo, kind agpmmanifest.Kind) string {
	switch kind {
	case agpmmanifest.KindAgent:
		return info.AgentsDir
	case agpmmanifest.KindCommand:
		return info.CommandsDir
	case agpmmanifest.KindSkill:
		return info.SkillsDir
	case agpmmanifest.KindScript:
		return info.ScriptsDir
	default:
		// Snippets, hooks, and mcp-servers are not written to a
		// per-tool resource directory: snippets are consumed purely
		// through transitive inclusion, and hooks/mcp-servers are wired
		// by pkg/finalize directly into the tool's sidecar config.
		return ""
	}
}

func toToolsName(name string) string {
	switch name {
	case "claude-code":
		return "claude"
	default:
		return name
	}
}

// earlyExit implements spec.md §4.8 step 2: a Git-backed entry with an
// unchanged resolved_commit, variant hash, and on-disk checksum skips
// all further work.
func (in *Installer) earlyExit(kind agpmmanifest.Kind, locked agpmlock.LockedResource, dest string) (bool, Result) {
	if in.Previous == nil {
		return false, Result{}
	}
	prev, ok := in.Previous.Find(kind, locked.Name)
	if !ok {
		return false, Result{}
	}
	if prev.SHA != locked.SHA || prev.VariantInputs.Hash != locked.VariantInputs.Hash {
		return false, Result{}
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		return false, Result{}
	}
	if render.Checksum(data) != prev.Checksum {
		return false, Result{}
	}

	return true, Result{Installed: false, Checksum: prev.Checksum, ContextChecksum: prev.ContextChecksum, AppliedPatches: prev.AppliedPatches}
}

// read obtains the resource's worktree via the cache and reads its
// file (or for skills, the directory's SKILL.md) from the pinned worktree.
func (in *Installer) read(ctx context.Context, locked agpmlock.LockedResource, isSkill bool) ([]byte, error) {
	if locked.Source == "" {
		path := filepath.Join(in.ProjectDir, locked.Path)
		data, err := readWithRetry(path)
		if err != nil {
			return nil, agpmerrors.Resource(err, "reading local dependency")
		}
		return data, nil
	}

	src, ok := in.Sources.GetSource(locked.Source)
	if !ok {
		return nil, agpmerrors.Resolution(fmt.Errorf("source %q is not defined", locked.Source), "reading dependency")
	}

	worktree, err := in.Cache.GetOrCreateWorktreeForSHA(ctx, src.URL, locked.SHA)
	if err != nil {
		return nil, err
	}

	path := locked.Path
	if isSkill {
		path = filepath.Join(path, "SKILL.md")
	}

	data, err := readWithRetry(filepath.Join(worktree, path))
	if err != nil {
		return nil, agpmerrors.Resource(err, fmt.Sprintf("reading %s", locked.Path))
	}
	return data, nil
}

// renderIfMarkdown runs the template engine over markdown resources
// only; other file types install as raw bytes with no context checksum.
func (in *Installer) renderIfMarkdown(dest string, content []byte, tool string, vars map[string]interface{}) (rendered []byte, contextChecksum string, err error) {
	if filepath.Ext(dest) != ".md" {
		return content, "", nil
	}

	ctx := render.Context{Tool: tool, Variables: vars}
	hash, err := ctx.Hash()
	if err != nil {
		return nil, "", err
	}

	out, err := render.Render(content, ctx)
	if err != nil {
		// Frontmatter/content validation is best-effort (spec.md §4.8
		// step 4): a template execution failure still installs the raw
		// bytes rather than failing the whole resource.
		return content, "", nil
	}
	return out, hash, nil
}

func (in *Installer) write(dest string, data []byte) error {
	if existing, err := os.ReadFile(dest); err == nil && sumEqual(existing, data) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return agpmerrors.Filesystem(err, "creating destination directory")
	}

	dir := filepath.Dir(dest)
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
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "renaming temp file")
	}
	return nil
}

func sumEqual(a, b []byte) bool {
	sa := sha256.Sum256(a)
	sb := sha256.Sum256(b)
	return hex.EncodeToString(sa[:]) == hex.EncodeToString(sb[:])
}

func relOrAbs(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
