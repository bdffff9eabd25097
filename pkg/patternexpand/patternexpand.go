// Package patternexpand expands a glob dependency path ("agents/**/*.md")
// against the file tree of a pinned worktree, producing the concrete set
// of paths a manifest pattern dependency resolves to.
//
// Glob compilation reuses github.com/gobwas/glob, the same library the
// teacher's pkg/pattern uses for its name-matching patterns, adapted
// here to walk a filesystem rather than match an in-memory name list.
package patternexpand

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
)

// HasMeta reports whether path contains glob metacharacters.
func HasMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

// Expand walks root looking for files whose path relative to root
// matches the glob pattern. "**" matches across directory separators;
// a single "*" does not. Returned paths are relative to root, sorted
// for deterministic resolution order.
func Expand(root, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, agpmerrors.Resolution(err, "compiling glob pattern")
	}

	var matches []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if g.Match(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, agpmerrors.Filesystem(err, "walking worktree for pattern expansion")
	}

	sort.Strings(matches)
	return matches, nil
}

// ErrNoMatches is returned by callers (via pkg/errors.Resolution) when a
// pattern dependency resolves to zero files, the PatternNoMatches
// resolver failure mode.
var ErrNoMatches = errors.New("pattern matched no files")
