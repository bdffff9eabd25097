// Package agpmlock loads and saves the resolved lockfile, agpm.lock,
// and its untracked sibling agpm.private.lock.
//
// A lockfile pins every resolved dependency to an exact commit SHA and
// a content checksum, the way go.sum or Cargo.lock pin a dependency
// graph, so two machines running `agpm install` against the same
// manifest materialize byte-identical output.
package agpmlock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
)

// LockFileName is the default name for the committed lockfile.
const LockFileName = "agpm.lock"

// PrivateLockFileName is the untracked sibling lockfile holding the
// private-overlay patches applied to each resource.
const PrivateLockFileName = "agpm.private.lock"

// VariantInputs captures the canonicalized template inputs that
// produced one rendered resource, so installs are reproducible: two
// resolves with identical VariantInputs always render identical bytes.
type VariantInputs struct {
	// Hash is sha256 of the canonical (sorted-key) JSON encoding of the
	// template context. The canonical empty context hashes "{}".
	Hash string `toml:"hash"`
}

// AppliedPatch records one named patch applied to a resource, with
// origin tracking so project- and private-sourced patches route to the
// correct lockfile.
type AppliedPatch struct {
	Name    string `toml:"name"`
	File    string `toml:"file"`
	Private bool   `toml:"private,omitempty"`
}

// LockedResource is one resolved, pinned dependency.
type LockedResource struct {
	Name     string `toml:"name"`
	Source   string `toml:"source,omitempty"`
	Path     string `toml:"path"`
	Version  string `toml:"version,omitempty"`
	SHA      string `toml:"sha,omitempty"`

	InstalledAt     string `toml:"installed_at,omitempty"`
	Checksum        string `toml:"checksum"`
	ContextChecksum string `toml:"context_checksum,omitempty"`

	VariantInputs VariantInputs           `toml:"variant_inputs"`
	TemplateVars  map[string]interface{} `toml:"template_vars,omitempty"`

	// Install, when explicitly false, means this entry is locked but was
	// never written to disk (manifest's install:false carried forward).
	Install *bool `toml:"install,omitempty"`

	// AppliedPatches lists every patch (project and private) applied
	// during install. Only the project-sourced subset is persisted to
	// the public lockfile; private ones are routed to agpm.private.lock.
	AppliedPatches []AppliedPatch `toml:"applied_patches,omitempty"`

	Tool     string `toml:"tool,omitempty"`
	Filename string `toml:"filename,omitempty"`
}

// ShouldInstall reports whether this locked resource should be written
// to disk (true unless Install is explicitly false).
func (r LockedResource) ShouldInstall() bool {
	return r.Install == nil || *r.Install
}

// ProjectPatches returns the subset of AppliedPatches sourced from the
// tracked manifest, the set that belongs in the public lockfile.
func (r LockedResource) ProjectPatches() []AppliedPatch {
	var out []AppliedPatch
	for _, p := range r.AppliedPatches {
		if !p.Private {
			out = append(out, p)
		}
	}
	return out
}

// OnlyPrivatePatches returns the subset of AppliedPatches sourced from
// the private overlay, the set routed to agpm.private.lock.
func (r LockedResource) OnlyPrivatePatches() []AppliedPatch {
	var out []AppliedPatch
	for _, p := range r.AppliedPatches {
		if p.Private {
			out = append(out, p)
		}
	}
	return out
}

// Lockfile represents agpm.lock.
type Lockfile struct {
	Version int `toml:"version"`

	Agents     []LockedResource `toml:"agents,omitempty"`
	Snippets   []LockedResource `toml:"snippets,omitempty"`
	Commands   []LockedResource `toml:"commands,omitempty"`
	Scripts    []LockedResource `toml:"scripts,omitempty"`
	Hooks      []LockedResource `toml:"hooks,omitempty"`
	McpServers []LockedResource `toml:"mcp-servers,omitempty"`
	Skills     []LockedResource `toml:"skills,omitempty"`

	// PrivatePatches records, per resource key ("kind.name"), the
	// private-overlay patches applied to it. Only ever populated on the
	// Lockfile passed to SavePrivate; the public agpm.lock leaves this nil.
	PrivatePatches map[string]ResourcePatches `toml:"resource,omitempty"`
}

// ResourcePatches is the private-lockfile record for one resource's
// private-sourced patches (spec.md §4.9/§6: "only [resource.patches]
// entries for patches sourced from the private overlay").
type ResourcePatches struct {
	Patches []AppliedPatch `toml:"patches"`
}

// IsEmpty reports whether the lockfile carries nothing worth persisting,
// used to decide whether agpm.private.lock should be deleted.
func (l *Lockfile) IsEmpty() bool {
	return len(l.AllEntries()) == 0 && len(l.PrivatePatches) == 0
}

// CanonicalEmptyVariantHash is the sha256 hex digest of the canonical
// empty template inputs `{}`, used when a resource has no template_vars.
var CanonicalEmptyVariantHash = computeCanonicalEmptyVariantHash()

func computeCanonicalEmptyVariantHash() string {
	sum := sha256.Sum256([]byte("{}"))
	return hex.EncodeToString(sum[:])
}

// Entries returns the locked resources for kind.
func (l *Lockfile) Entries(kind agpmmanifest.Kind) []LockedResource {
	switch kind {
	case agpmmanifest.KindAgent:
		return l.Agents
	case agpmmanifest.KindSnippet:
		return l.Snippets
	case agpmmanifest.KindCommand:
		return l.Commands
	case agpmmanifest.KindScript:
		return l.Scripts
	case agpmmanifest.KindHook:
		return l.Hooks
	case agpmmanifest.KindMCPServer:
		return l.McpServers
	case agpmmanifest.KindSkill:
		return l.Skills
	default:
		return nil
	}
}

func (l *Lockfile) setEntries(kind agpmmanifest.Kind, entries []LockedResource) {
	switch kind {
	case agpmmanifest.KindAgent:
		l.Agents = entries
	case agpmmanifest.KindSnippet:
		l.Snippets = entries
	case agpmmanifest.KindCommand:
		l.Commands = entries
	case agpmmanifest.KindScript:
		l.Scripts = entries
	case agpmmanifest.KindHook:
		l.Hooks = entries
	case agpmmanifest.KindMCPServer:
		l.McpServers = entries
	case agpmmanifest.KindSkill:
		l.Skills = entries
	}
}

// SetEntries replaces the locked resources for kind, sorted by name for
// deterministic lockfile diffs.
func (l *Lockfile) SetEntries(kind agpmmanifest.Kind, entries []LockedResource) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	l.setEntries(kind, entries)
}

// Find looks up one locked resource by kind and name.
func (l *Lockfile) Find(kind agpmmanifest.Kind, name string) (LockedResource, bool) {
	for _, r := range l.Entries(kind) {
		if r.Name == name {
			return r, true
		}
	}
	return LockedResource{}, false
}

// AllEntries returns every locked resource across all kinds, in the
// manifest's canonical kind order.
type NamedLockedResource struct {
	Kind Kind
	Resource LockedResource
}

type Kind = agpmmanifest.Kind

func (l *Lockfile) AllEntries() []NamedLockedResource {
	var out []NamedLockedResource
	for _, kind := range agpmmanifest.AllKinds {
		for _, r := range l.Entries(kind) {
			out = append(out, NamedLockedResource{Kind: kind, Resource: r})
		}
	}
	return out
}

// Load reads agpm.lock from projectDir. A missing lockfile returns an
// empty, valid Lockfile (first install has none yet).
func Load(projectDir string) (*Lockfile, error) {
	lf, err := loadOne(filepath.Join(projectDir, LockFileName))
	if err != nil {
		return nil, err
	}

	privPath := filepath.Join(projectDir, PrivateLockFileName)
	if _, err := os.Stat(privPath); err == nil {
		priv, err := loadOne(privPath)
		if err != nil {
			return nil, err
		}
		for _, kind := range agpmmanifest.AllKinds {
			lf.setEntries(kind, append(lf.Entries(kind), priv.Entries(kind)...))
		}
	}
	return lf, nil
}

func loadOne(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Lockfile{Version: 1}, nil
	}
	if err != nil {
		return nil, agpmerrors.Filesystem(err, fmt.Sprintf("reading %s", path))
	}
	var lf Lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, agpmerrors.Validation(err, fmt.Sprintf("parsing %s", path))
	}
	if lf.Version == 0 {
		lf.Version = 1
	}
	return &lf, nil
}

// Save writes the public portion of the lockfile to projectDir/agpm.lock.
// Private-overlay patches are split off into SavePrivate by the caller
// (pkg/finalize).
func (l *Lockfile) Save(projectDir string) error {
	data, err := toml.Marshal(l)
	if err != nil {
		return agpmerrors.Validation(err, "encoding lockfile")
	}
	return atomicWrite(filepath.Join(projectDir, LockFileName), data, 0o644)
}

// SavePrivate writes priv to projectDir/agpm.private.lock, deleting any
// existing file instead when priv has nothing worth keeping.
func SavePrivate(projectDir string, priv *Lockfile) error {
	path := filepath.Join(projectDir, PrivateLockFileName)
	if priv == nil || priv.IsEmpty() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return agpmerrors.Filesystem(err, "removing empty private lockfile")
		}
		return nil
	}
	data, err := toml.Marshal(priv)
	if err != nil {
		return agpmerrors.Validation(err, "encoding private lockfile")
	}
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
