// Package agpmmanifest loads and saves the project manifest, agpm.toml,
// and its untracked sibling agpm.private.toml.
//
// The manifest format follows the teacher repo's ai.repo.yaml in spirit
// (a versioned, declarative description of what should be present) but
// moves to TOML, per-kind dependency tables, and a depspec string
// grammar instead of one flat source list.
package agpmmanifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
)

// ManifestFileName is the default name for the project manifest file.
const ManifestFileName = "agpm.toml"

// PrivateManifestFileName is the untracked sibling manifest, merged on
// top of ManifestFileName and always kept out of version control.
const PrivateManifestFileName = "agpm.private.toml"

var nameValidationRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Source is a named git remote (or local path) dependencies resolve against.
type Source struct {
	URL  string `toml:"url,omitempty"`
	Path string `toml:"path,omitempty"`
}

// IsLocal reports whether this source points at a local directory
// rather than a remote git URL.
func (s Source) IsLocal() bool { return s.Path != "" }

// Dependency is one entry under a resource-kind table, e.g. [agents.reviewer].
type Dependency struct {
	// Spec is the depspec string: "source:path[@version]", a bare local
	// "./path", or a glob pattern under either form.
	Spec string `toml:"spec"`

	// Branch, when set, resolves against a branch ref instead of Spec's
	// @version suffix. Rev takes precedence over Branch, which takes
	// precedence over Spec's @version.
	Branch string `toml:"branch,omitempty"`

	// Rev pins an exact ref (tag, branch, or commit-ish), taking
	// precedence over both Branch and Spec's @version.
	Rev string `toml:"rev,omitempty"`

	// Tool overrides the manifest-level default_tool for this entry.
	Tool string `toml:"tool,omitempty"`

	// Target overrides the tool's default install directory for this entry.
	Target string `toml:"target,omitempty"`

	// Filename overrides the installed file's base name.
	Filename string `toml:"filename,omitempty"`

	// Install, when explicitly false, resolves and locks this dependency
	// without writing it to disk or registering it in .gitignore.
	Install *bool `toml:"install,omitempty"`

	// TemplateVars feeds per-entry values into the render context; two
	// entries with the same values up to key order hash identically.
	TemplateVars map[string]interface{} `toml:"template_vars,omitempty"`

	// Dependencies declares transitive edges beyond what the resource's
	// own frontmatter names, using the same depspec/relative-path grammar.
	Dependencies []string `toml:"dependencies,omitempty"`
}

// EffectiveRef returns the git ref this dependency should resolve
// against, applying Rev > Branch > the depspec's own @version suffix.
func (d Dependency) EffectiveRef(specVersion string) string {
	if d.Rev != "" {
		return d.Rev
	}
	if d.Branch != "" {
		return d.Branch
	}
	return specVersion
}

// ShouldInstall reports whether this dependency should be materialized
// on disk (true unless Install is explicitly false).
func (d Dependency) ShouldInstall() bool {
	return d.Install == nil || *d.Install
}

// Manifest represents agpm.toml.
type Manifest struct {
	Version int `toml:"version"`

	DefaultTool string `toml:"default_tool,omitempty"`

	Sources map[string]Source `toml:"sources,omitempty"`

	Agents     map[string]Dependency `toml:"agents,omitempty"`
	Snippets   map[string]Dependency `toml:"snippets,omitempty"`
	Commands   map[string]Dependency `toml:"commands,omitempty"`
	Scripts    map[string]Dependency `toml:"scripts,omitempty"`
	Hooks      map[string]Dependency `toml:"hooks,omitempty"`
	McpServers map[string]Dependency `toml:"mcp-servers,omitempty"`
	Skills     map[string]Dependency `toml:"skills,omitempty"`

	// Patches names the textual edits available to apply, keyed by an
	// arbitrary patch name referenced from ProjectPatches/PrivatePatches.
	Patches map[string]Patch `toml:"patches,omitempty"`

	// ProjectPatches assigns named Patches to resource files, keyed by
	// kind_plural -> lookup_name -> file_path. Project patches are part
	// of the lockfile's identity.
	ProjectPatches map[string]map[string]map[string]PatchRef `toml:"project-patches,omitempty"`

	// PrivatePatches mirrors ProjectPatches. It is filled from a
	// [private-patches] table in agpm.toml or merged in from
	// agpm.private.toml on Load; applying one never changes a resource's
	// resolved identity and its record is routed to agpm.private.lock.
	PrivatePatches map[string]map[string]map[string]PatchRef `toml:"private-patches,omitempty"`
}

// Patch is a named textual edit, stored as a diff-match-patch patch text
// (github.com/sergi/go-diff/diffmatchpatch), applied to a resource's
// content after it is read and before it is rendered.
type Patch struct {
	Diff string `toml:"diff"`
}

// PatchRef orders the named Patches applied to one (kind, lookup_name,
// file_path) triple.
type PatchRef struct {
	Patches []string `toml:"patches"`
}

// PatchApplication is one patch resolved against a resource, carrying
// enough information for origin tracking (project vs. private) once applied.
type PatchApplication struct {
	Name    string
	Diff    string
	Private bool
}

// PatchesFor resolves the ordered list of patches (project patches
// first, then private) that apply to one resource, keyed the way
// spec.md §4.8 step 5 describes: kind_plural, lookup_name (the manifest
// alias, falling back to the resource name), and the file path being
// installed.
func (m *Manifest) PatchesFor(kind Kind, lookupName, filePath string) ([]PatchApplication, error) {
	var out []PatchApplication

	project := lookupPatchRef(m.ProjectPatches, kind, lookupName, filePath)
	for _, name := range project.Patches {
		p, ok := m.Patches[name]
		if !ok {
			return nil, agpmerrors.Validation(fmt.Errorf("project-patches references undefined patch %q", name), "resolving patches")
		}
		out = append(out, PatchApplication{Name: name, Diff: p.Diff})
	}

	private := lookupPatchRef(m.PrivatePatches, kind, lookupName, filePath)
	for _, name := range private.Patches {
		p, ok := m.Patches[name]
		if !ok {
			return nil, agpmerrors.Validation(fmt.Errorf("private-patches references undefined patch %q", name), "resolving patches")
		}
		out = append(out, PatchApplication{Name: name, Diff: p.Diff, Private: true})
	}

	return out, nil
}

func lookupPatchRef(table map[string]map[string]map[string]PatchRef, kind Kind, lookupName, filePath string) PatchRef {
	byName, ok := table[string(kind)]
	if !ok {
		return PatchRef{}
	}
	byPath, ok := byName[lookupName]
	if !ok {
		return PatchRef{}
	}
	return byPath[filePath]
}

// Kind identifies one of the manifest's resource-kind tables.
type Kind string

const (
	KindAgent     Kind = "agents"
	KindSnippet   Kind = "snippets"
	KindCommand   Kind = "commands"
	KindScript    Kind = "scripts"
	KindHook      Kind = "hooks"
	KindMCPServer Kind = "mcp-servers"
	KindSkill     Kind = "skills"
)

// AllKinds lists every resource-kind table, in the canonical order used
// for deterministic iteration (resolution order, lockfile ordering).
var AllKinds = []Kind{KindAgent, KindSnippet, KindCommand, KindScript, KindHook, KindMCPServer, KindSkill}

// Entries returns the dependency table for kind.
func (m *Manifest) Entries(kind Kind) map[string]Dependency {
	switch kind {
	case KindAgent:
		return m.Agents
	case KindSnippet:
		return m.Snippets
	case KindCommand:
		return m.Commands
	case KindScript:
		return m.Scripts
	case KindHook:
		return m.Hooks
	case KindMCPServer:
		return m.McpServers
	case KindSkill:
		return m.Skills
	default:
		return nil
	}
}

// AllEntries returns every (kind, name) -> Dependency across all tables,
// sorted for deterministic iteration.
type NamedDependency struct {
	Kind Kind
	Name string
	Dep  Dependency
}

func (m *Manifest) AllEntries() []NamedDependency {
	var out []NamedDependency
	for _, kind := range AllKinds {
		entries := m.Entries(kind)
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, NamedDependency{Kind: kind, Name: name, Dep: entries[name]})
		}
	}
	return out
}

// Load reads agpm.toml from projectDir, merges agpm.private.toml over it
// when present, and validates the result. A missing agpm.toml is an
// error: unlike the teacher's repo manifest, there is no directory to
// operate against without one.
func Load(projectDir string) (*Manifest, error) {
	path := filepath.Join(projectDir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, agpmerrors.Validation(err, fmt.Sprintf("reading %s", ManifestFileName))
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, agpmerrors.Validation(err, fmt.Sprintf("parsing %s", ManifestFileName))
	}
	if m.Version == 0 {
		m.Version = 1
	}

	privatePath := filepath.Join(projectDir, PrivateManifestFileName)
	if privData, err := os.ReadFile(privatePath); err == nil {
		var priv Manifest
		if err := toml.Unmarshal(privData, &priv); err != nil {
			return nil, agpmerrors.Validation(err, fmt.Sprintf("parsing %s", PrivateManifestFileName))
		}
		m.merge(&priv)
	} else if !os.IsNotExist(err) {
		return nil, agpmerrors.Filesystem(err, fmt.Sprintf("reading %s", PrivateManifestFileName))
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// merge overlays other's sources and dependency entries onto m,
// other taking precedence on key collisions.
func (m *Manifest) merge(other *Manifest) {
	if m.Sources == nil {
		m.Sources = map[string]Source{}
	}
	for name, src := range other.Sources {
		m.Sources[name] = src
	}
	for _, kind := range AllKinds {
		otherEntries := other.Entries(kind)
		if len(otherEntries) == 0 {
			continue
		}
		m.setEntries(kind, mergeDeps(m.Entries(kind), otherEntries))
	}

	if len(other.Patches) > 0 {
		if m.Patches == nil {
			m.Patches = map[string]Patch{}
		}
		for name, p := range other.Patches {
			m.Patches[name] = p
		}
	}
	if len(other.PrivatePatches) > 0 {
		m.PrivatePatches = mergePatchTables(m.PrivatePatches, other.PrivatePatches)
	}
	// A private overlay only ever contributes private-patches; project
	// patch assignments stay authoritative on the tracked manifest.
}

func mergePatchTables(base, overlay map[string]map[string]map[string]PatchRef) map[string]map[string]map[string]PatchRef {
	if base == nil {
		base = map[string]map[string]map[string]PatchRef{}
	}
	for kind, byName := range overlay {
		if base[kind] == nil {
			base[kind] = map[string]map[string]PatchRef{}
		}
		for name, byPath := range byName {
			if base[kind][name] == nil {
				base[kind][name] = map[string]PatchRef{}
			}
			for path, ref := range byPath {
				base[kind][name][path] = ref
			}
		}
	}
	return base
}

func mergeDeps(base, overlay map[string]Dependency) map[string]Dependency {
	if base == nil {
		base = map[string]Dependency{}
	}
	for name, dep := range overlay {
		base[name] = dep
	}
	return base
}

func (m *Manifest) setEntries(kind Kind, entries map[string]Dependency) {
	switch kind {
	case KindAgent:
		m.Agents = entries
	case KindSnippet:
		m.Snippets = entries
	case KindCommand:
		m.Commands = entries
	case KindScript:
		m.Scripts = entries
	case KindHook:
		m.Hooks = entries
	case KindMCPServer:
		m.McpServers = entries
	case KindSkill:
		m.Skills = entries
	}
}

// Save writes the manifest to projectDir/agpm.toml.
func (m *Manifest) Save(projectDir string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(m)
	if err != nil {
		return agpmerrors.Validation(err, "encoding manifest")
	}
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return agpmerrors.Filesystem(err, "creating project directory")
	}
	path := filepath.Join(projectDir, ManifestFileName)
	return atomicWrite(path, data, 0o644)
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
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
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "setting temp file permissions")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "renaming temp file")
	}
	return nil
}

// Validate checks structural invariants: source and dependency names,
// spec non-emptiness, and that every patch assignment names a declared
// patch. It does not check that a dependency's source is declared in
// [sources].
func (m *Manifest) Validate() error {
	for name := range m.Sources {
		if !nameValidationRe.MatchString(name) {
			return agpmerrors.Validation(fmt.Errorf("invalid source name %q", name), "manifest validation")
		}
	}
	for _, nd := range m.AllEntries() {
		if !nameValidationRe.MatchString(nd.Name) {
			return agpmerrors.Validation(fmt.Errorf("invalid dependency name %q", nd.Name), "manifest validation")
		}
		if strings.TrimSpace(nd.Dep.Spec) == "" {
			return agpmerrors.Validation(fmt.Errorf("%s.%s has an empty spec", nd.Kind, nd.Name), "manifest validation")
		}
	}
	if err := m.validatePatchTable(m.ProjectPatches, "project-patches"); err != nil {
		return err
	}
	if err := m.validatePatchTable(m.PrivatePatches, "private-patches"); err != nil {
		return err
	}
	return nil
}

// validatePatchTable checks that every patch name a project/private
// patch assignment references is declared in [patches].
func (m *Manifest) validatePatchTable(table map[string]map[string]map[string]PatchRef, tableName string) error {
	for _, byName := range table {
		for _, byPath := range byName {
			for _, ref := range byPath {
				for _, patchName := range ref.Patches {
					if _, ok := m.Patches[patchName]; !ok {
						return agpmerrors.Validation(fmt.Errorf("%s references undefined patch %q", tableName, patchName), "manifest validation")
					}
				}
			}
		}
	}
	return nil
}

// AddSource inserts or replaces a named source.
func (m *Manifest) AddSource(name string, src Source) {
	if m.Sources == nil {
		m.Sources = map[string]Source{}
	}
	m.Sources[name] = src
}

// GetSource looks up a named source.
func (m *Manifest) GetSource(name string) (Source, bool) {
	src, ok := m.Sources[name]
	return src, ok
}

// AddDependency inserts or replaces a dependency entry under kind.
func (m *Manifest) AddDependency(kind Kind, name string, dep Dependency) {
	entries := m.Entries(kind)
	if entries == nil {
		entries = map[string]Dependency{}
	}
	entries[name] = dep
	m.setEntries(kind, entries)
}
