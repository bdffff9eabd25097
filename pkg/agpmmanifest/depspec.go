package agpmmanifest

import (
	"fmt"
	"strings"

	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
)

// DepSpec is a parsed dependency specifier:
//
//	source:path[@version]   - a path inside a named manifest source, at an optional ref
//	./path or local path     - a path relative to the project, no source/version
//
// Paths may contain glob metacharacters ("*", "**"); IsPattern reports this.
type DepSpec struct {
	Source  string // empty when Local
	Path    string
	Version string // ref: branch, tag, or commit; empty means the source's default
	Local   bool
}

// IsPattern reports whether Path contains glob metacharacters.
func (d DepSpec) IsPattern() bool {
	return strings.ContainsAny(d.Path, "*?[")
}

// ParseDepSpec parses the depspec grammar used in manifest entries and
// `agpm add` arguments.
func ParseDepSpec(spec string) (DepSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return DepSpec{}, agpmerrors.Validation(fmt.Errorf("empty dependency spec"), "parsing depspec")
	}

	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/") {
		return DepSpec{Local: true, Path: spec}, nil
	}

	// source:path[@version] — split on the first colon only, since
	// Windows-style paths or version strings never appear before it in
	// this grammar.
	colonIdx := strings.Index(spec, ":")
	if colonIdx < 0 {
		// No source prefix and not an explicit local form: treat as a
		// bare local path (e.g. "my-agent.md").
		return DepSpec{Local: true, Path: spec}, nil
	}

	source := spec[:colonIdx]
	rest := spec[colonIdx+1:]
	if source == "" || rest == "" {
		return DepSpec{}, agpmerrors.Validation(fmt.Errorf("malformed depspec %q", spec), "parsing depspec")
	}

	path := rest
	version := ""
	if atIdx := strings.LastIndex(rest, "@"); atIdx > 0 {
		path = rest[:atIdx]
		version = rest[atIdx+1:]
	}

	if path == "" {
		return DepSpec{}, agpmerrors.Validation(fmt.Errorf("malformed depspec %q: empty path", spec), "parsing depspec")
	}

	return DepSpec{Source: source, Path: path, Version: version}, nil
}

// String renders the DepSpec back to its canonical spec string.
func (d DepSpec) String() string {
	if d.Local {
		return d.Path
	}
	if d.Version == "" {
		return fmt.Sprintf("%s:%s", d.Source, d.Path)
	}
	return fmt.Sprintf("%s:%s@%s", d.Source, d.Path, d.Version)
}
