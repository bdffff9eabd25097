// Package depgraph discovers transitive dependencies declared in a
// resource's YAML frontmatter and walks them to a fixed point, guarding
// against cycles and runaway depth.
//
// Extraction reuses the teacher's pkg/frontmatter parser verbatim: any
// resource markdown file with a `dependencies:` frontmatter list is
// walked the same way a command or agent file is read for its metadata.
package depgraph

import (
	"fmt"

	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
	"github.com/agpm-dev/agpm/pkg/frontmatter"
)

// MaxDepth bounds transitive dependency walks; exceeding it is a
// resolver failure (TransitiveCycleExceededDepth), since a real
// dependency tree this deep almost certainly indicates a cycle that
// visited-set tracking failed to catch (e.g. varying by version at
// each hop).
const MaxDepth = 32

// Node is one dependency discovered while walking a resource's
// frontmatter, either declared directly in the manifest or pulled in
// transitively by another resource's `dependencies:` field.
type Node struct {
	Spec  agpmmanifest.DepSpec
	Depth int
}

// visitKey uniquely identifies a (source-or-local, path, version) triple
// so the same resource reached by two different paths through the graph
// is only visited once.
type visitKey struct {
	sourceOrLocal string
	path          string
	version       string
}

func keyFor(spec agpmmanifest.DepSpec) visitKey {
	sourceOrLocal := spec.Source
	if spec.Local {
		sourceOrLocal = "."
	}
	return visitKey{sourceOrLocal: sourceOrLocal, path: spec.Path, version: spec.Version}
}

// ExtractDependencies reads the `dependencies:` frontmatter field (a
// list of depspec strings) out of a resource's raw file content. A
// missing field or missing frontmatter yields no dependencies, not an error.
func ExtractDependencies(content []byte) ([]agpmmanifest.DepSpec, error) {
	fm, err := frontmatter.Parse(content)
	if err != nil {
		return nil, agpmerrors.Validation(err, "parsing resource frontmatter")
	}
	if fm == nil {
		return nil, nil
	}

	raw, ok := fm.Fields["dependencies"]
	if !ok {
		return nil, nil
	}

	items, ok := raw.([]interface{})
	if !ok {
		return nil, agpmerrors.Validation(fmt.Errorf("dependencies field must be a list of strings"), "parsing resource frontmatter")
	}

	specs := make([]agpmmanifest.DepSpec, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, agpmerrors.Validation(fmt.Errorf("dependencies entries must be strings"), "parsing resource frontmatter")
		}
		spec, err := agpmmanifest.ParseDepSpec(s)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Walker accumulates the visited set across a resolution run so that
// repeated calls to Visit (one per discovered dependency) share cycle
// detection state.
type Walker struct {
	visited map[visitKey]bool
}

// NewWalker creates an empty Walker.
func NewWalker() *Walker {
	return &Walker{visited: make(map[visitKey]bool)}
}

// Visit records spec at depth and reports whether the caller should
// recurse into it: false means either it was already visited (a cycle
// or a diamond dependency, both fine to skip) or depth exceeds MaxDepth
// (an error, since that case is not a legitimate diamond).
func (w *Walker) Visit(spec agpmmanifest.DepSpec, depth int) (shouldRecurse bool, err error) {
	if depth > MaxDepth {
		return false, agpmerrors.Resolution(
			fmt.Errorf("transitive dependency depth exceeded %d at %s", MaxDepth, spec.String()),
			"transitive dependency walk",
		)
	}

	key := keyFor(spec)
	if w.visited[key] {
		return false, nil
	}
	w.visited[key] = true
	return true, nil
}

// Seen reports whether spec has already been visited by this Walker.
func (w *Walker) Seen(spec agpmmanifest.DepSpec) bool {
	return w.visited[keyFor(spec)]
}
