// Package resolve turns a manifest into a fully pinned lockfile: it
// syncs sources, resolves versions to commit SHAs, expands glob
// dependency patterns, walks transitive dependencies declared in
// resource frontmatter, and emits a deterministically ordered lockfile.
package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/agpm-dev/agpm/pkg/agpmlock"
	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	"github.com/agpm-dev/agpm/pkg/cache"
	"github.com/agpm-dev/agpm/pkg/depgraph"
	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
	"github.com/agpm-dev/agpm/pkg/gitdriver"
	"github.com/agpm-dev/agpm/pkg/patternexpand"
	"github.com/agpm-dev/agpm/pkg/render"
)

// Cache is the subset of *cache.Cache the resolver depends on.
type Cache interface {
	GetOrCloneSource(ctx context.Context, url string, force bool) (string, error)
	GetOrCreateWorktreeForSHA(ctx context.Context, url, sha string) (string, error)
}

var _ Cache = (*cache.Cache)(nil)

// Resolver resolves a manifest against a cache into a lockfile.
type Resolver struct {
	Manifest *agpmmanifest.Manifest
	Cache    Cache
	Driver   *gitdriver.Driver

	// AllowList restricts which (kind, name) entries are allowed to move
	// to a new resolved SHA on an update; entries outside it keep the
	// resolved_commit from Previous. Empty means "resolve everything"
	// (the normal `agpm install` / `agpm update` with no args path).
	AllowList map[string]bool

	// Previous is the lockfile to preserve pins from on a partial update.
	// Nil for a fresh resolve.
	Previous *agpmlock.Lockfile
}

// pending is one not-yet-expanded manifest entry queued for resolution.
type pending struct {
	kind agpmmanifest.Kind
	name string
	dep  agpmmanifest.Dependency
}

// Resolve runs the full pipeline and returns a new lockfile.
func (r *Resolver) Resolve(ctx context.Context) (*agpmlock.Lockfile, error) {
	lf := &agpmlock.Lockfile{Version: 1}
	walker := depgraph.NewWalker()

	buckets := map[agpmmanifest.Kind][]agpmlock.LockedResource{}

	for _, nd := range r.Manifest.AllEntries() {
		resources, err := r.resolveEntry(ctx, nd.Kind, nd.Name, nd.Dep, walker)
		if err != nil {
			return nil, fmt.Errorf("resolving %s.%s: %w", nd.Kind, nd.Name, err)
		}
		buckets[nd.Kind] = append(buckets[nd.Kind], resources...)

		for _, locked := range resources {
			transitive, err := r.walkTransitive(ctx, nd.Kind, locked, walker, 1)
			if err != nil {
				return nil, fmt.Errorf("walking transitive dependencies of %s.%s: %w", nd.Kind, nd.Name, err)
			}
			buckets[nd.Kind] = append(buckets[nd.Kind], transitive...)
		}
	}

	for kind, resources := range buckets {
		lf.SetEntries(kind, resources)
	}
	return lf, nil
}

func (r *Resolver) allowed(kind agpmmanifest.Kind, name string) bool {
	if len(r.AllowList) == 0 {
		return true
	}
	return r.AllowList[string(kind)+"."+name]
}

// resolveEntry resolves one manifest entry to one or more locked
// resources (more than one only for pattern-bearing entries).
func (r *Resolver) resolveEntry(ctx context.Context, kind agpmmanifest.Kind, name string, dep agpmmanifest.Dependency, walker *depgraph.Walker) ([]agpmlock.LockedResource, error) {
	spec, err := agpmmanifest.ParseDepSpec(dep.Spec)
	if err != nil {
		return nil, err
	}

	variantHash, err := render.VariantHash(dep.TemplateVars)
	if err != nil {
		return nil, err
	}
	variant := agpmlock.VariantInputs{Hash: variantHash}

	if spec.Local {
		if r.prevPinOnly(kind, name) {
			return []agpmlock.LockedResource{r.previousEntry(kind, name)}, nil
		}
		return []agpmlock.LockedResource{{
			Name:          name,
			Path:          spec.Path,
			Tool:          dep.Tool,
			Filename:      dep.Filename,
			Install:       dep.Install,
			TemplateVars:  dep.TemplateVars,
			VariantInputs: variant,
		}}, nil
	}

	source, ok := r.Manifest.GetSource(spec.Source)
	if !ok {
		return nil, agpmerrors.Resolution(fmt.Errorf("source %q is not defined", spec.Source), "SourceNotDefined")
	}
	if source.IsLocal() {
		return nil, agpmerrors.Resolution(fmt.Errorf("local sources do not support pattern/version specs"), "resolving source")
	}

	sha, err := r.resolveSHA(ctx, kind, name, source.URL, dep.EffectiveRef(spec.Version))
	if err != nil {
		return nil, err
	}

	if !spec.IsPattern() {
		return []agpmlock.LockedResource{{
			Name:          name,
			Source:        spec.Source,
			Path:          spec.Path,
			Version:       spec.Version,
			SHA:           sha,
			Tool:          dep.Tool,
			Filename:      dep.Filename,
			Install:       dep.Install,
			TemplateVars:  dep.TemplateVars,
			VariantInputs: variant,
		}}, nil
	}

	worktree, err := r.Cache.GetOrCreateWorktreeForSHA(ctx, source.URL, sha)
	if err != nil {
		return nil, err
	}
	matches, err := patternexpand.Expand(worktree, spec.Path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, agpmerrors.Resolution(fmt.Errorf("pattern %q matched no files in %s: %w", spec.Path, spec.Source, patternexpand.ErrNoMatches), "PatternNoMatches")
	}

	resources := make([]agpmlock.LockedResource, 0, len(matches))
	for _, m := range matches {
		resources = append(resources, agpmlock.LockedResource{
			Name:          matchName(name, m),
			Source:        spec.Source,
			Path:          m,
			Version:       spec.Version,
			SHA:           sha,
			Tool:          dep.Tool,
			Install:       dep.Install,
			TemplateVars:  dep.TemplateVars,
			VariantInputs: variant,
		})
	}
	return resources, nil
}

// matchName derives a unique resource name for one file matched by a
// glob entry, namespacing it under the manifest entry's own name.
func matchName(entryName, matchedPath string) string {
	base := filepath.Base(matchedPath)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	return entryName + "/" + stem
}

func (r *Resolver) resolveSHA(ctx context.Context, kind agpmmanifest.Kind, name, url, version string) (string, error) {
	if !r.allowed(kind, name) {
		if prev := r.previousEntry(kind, name); prev.SHA != "" {
			return prev.SHA, nil
		}
	}

	bareDir, err := r.Cache.GetOrCloneSource(ctx, url, false)
	if err != nil {
		return "", err
	}

	ref := version
	if ref == "" {
		ref = "HEAD"
	}
	sha, err := r.Driver.ResolveRef(ctx, bareDir, ref)
	if err != nil {
		return "", agpmerrors.Resolution(fmt.Errorf("RefNotFound: %s@%s: %w", url, ref, err), "resolving ref")
	}
	return sha, nil
}

func (r *Resolver) previousEntry(kind agpmmanifest.Kind, name string) agpmlock.LockedResource {
	if r.Previous == nil {
		return agpmlock.LockedResource{}
	}
	res, _ := r.Previous.Find(kind, name)
	return res
}

func (r *Resolver) prevPinOnly(kind agpmmanifest.Kind, name string) bool {
	return !r.allowed(kind, name) && r.Previous != nil
}

// walkTransitive reads locked's file out of its worktree, extracts
// `dependencies:` frontmatter entries, and recursively resolves them,
// tracking visited (source_or_local, path, version) triples to cut
// cycles and bounding recursion at depgraph.MaxDepth.
func (r *Resolver) walkTransitive(ctx context.Context, kind agpmmanifest.Kind, locked agpmlock.LockedResource, walker *depgraph.Walker, depth int) ([]agpmlock.LockedResource, error) {
	if locked.Source == "" {
		// Local entries still get frontmatter-scanned if they exist on
		// disk relative to the project; skip here, the installer handles
		// local content directly. The resolver's job is pinning remote
		// graphs.
		return nil, nil
	}

	source, ok := r.Manifest.GetSource(locked.Source)
	if !ok {
		return nil, agpmerrors.Resolution(fmt.Errorf("source %q is not defined", locked.Source), "SourceNotDefined")
	}

	worktree, err := r.Cache.GetOrCreateWorktreeForSHA(ctx, source.URL, locked.SHA)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filepath.Join(worktree, locked.Path))
	if err != nil {
		// Missing or unreadable files are a read-stage concern for the
		// installer; the resolver treats them as having no further
		// transitive edges rather than failing the whole resolve.
		return nil, nil
	}

	deps, err := depgraph.ExtractDependencies(content)
	if err != nil {
		return nil, err
	}

	var out []agpmlock.LockedResource
	for _, spec := range deps {
		resolvedSpec := spec
		if spec.Local {
			// File-relative reference: reuse the declaring resource's
			// source and SHA, resolved relative to its own path.
			resolvedSpec.Source = locked.Source
		}

		ok, err := walker.Visit(resolvedSpec, depth)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		// Transitive dependencies (frontmatter `dependencies:` entries) have
		// no DepSpec grammar for template_vars, so they inherit the
		// canonical empty variant hash rather than the declaring resource's.
		childVariant := agpmlock.VariantInputs{Hash: agpmlock.CanonicalEmptyVariantHash}

		var childLocked agpmlock.LockedResource
		if spec.Local {
			childLocked = agpmlock.LockedResource{
				Name:          transitiveName(locked.Name, spec.Path),
				Source:        locked.Source,
				Path:          filepath.Join(filepath.Dir(locked.Path), spec.Path),
				Version:       locked.Version,
				SHA:           locked.SHA,
				VariantInputs: childVariant,
			}
		} else {
			childSrc, ok := r.Manifest.GetSource(spec.Source)
			if !ok {
				return nil, agpmerrors.Resolution(fmt.Errorf("source %q is not defined", spec.Source), "SourceNotDefined")
			}
			sha, err := r.resolveSHA(ctx, kind, transitiveName(locked.Name, spec.Path), childSrc.URL, spec.Version)
			if err != nil {
				return nil, err
			}
			childLocked = agpmlock.LockedResource{
				Name:          transitiveName(locked.Name, spec.Path),
				Source:        spec.Source,
				Path:          spec.Path,
				Version:       spec.Version,
				SHA:           sha,
				VariantInputs: childVariant,
			}
		}

		out = append(out, childLocked)
		grandchildren, err := r.walkTransitive(ctx, kind, childLocked, walker, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, grandchildren...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func transitiveName(parent, path string) string {
	return parent + "+" + filepath.Base(path)
}
