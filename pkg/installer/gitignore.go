package installer

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
)

const (
	managedStartMarker       = "# AGPM managed entries - do not edit below this line"
	managedEndMarker         = "# End of AGPM managed entries"
	legacyManagedStartMarker = "# CCPM managed entries - do not edit below this line"
	legacyManagedEndMarker   = "# End of CCPM managed entries"
)

// alwaysIgnored is always present in the managed block regardless of
// what was installed, since these files hold secrets/local overrides
// that must never be committed.
var alwaysIgnored = []string{"agpm.private.toml", "agpm.private.lock"}

// gitignoreMu serializes incremental .gitignore updates across
// concurrently installing resources within one process; cross-process
// safety is unnecessary here because only one `agpm install` writes to
// a given project's .gitignore at a time by manifest-lock convention.
var gitignoreMu sync.Mutex

// AddPathToGitignore appends one installed path to the managed block of
// projectDir/.gitignore, preserving everything else in the file
// byte-for-byte. Used incrementally during install as a safety net; the
// finalizer's RewriteGitignore pass is authoritative.
func AddPathToGitignore(projectDir, path string) error {
	gitignoreMu.Lock()
	defer gitignoreMu.Unlock()

	gitignorePath := filepath.Join(projectDir, ".gitignore")
	before, managed, after, err := splitManagedBlock(gitignorePath)
	if err != nil {
		return err
	}

	set := map[string]bool{}
	for _, p := range managed {
		set[p] = true
	}
	set[path] = true
	for _, p := range alwaysIgnored {
		set[p] = true
	}

	return writeGitignore(gitignorePath, before, sortedKeys(set), after)
}

// RewriteGitignore rebuilds the managed block from scratch to contain
// exactly installedPaths plus the always-ignored private files,
// discarding any incremental entries installedPaths no longer names.
func RewriteGitignore(projectDir string, installedPaths []string) error {
	gitignoreMu.Lock()
	defer gitignoreMu.Unlock()

	gitignorePath := filepath.Join(projectDir, ".gitignore")
	before, _, after, err := splitManagedBlock(gitignorePath)
	if err != nil {
		return err
	}

	set := map[string]bool{}
	for _, p := range installedPaths {
		set[p] = true
	}
	for _, p := range alwaysIgnored {
		set[p] = true
	}

	return writeGitignore(gitignorePath, before, sortedKeys(set), after)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// splitManagedBlock reads an existing .gitignore and separates it into
// the content before the managed block, the managed entries
// themselves, and the content after the block. Recognizes both the
// current marker pair and the legacy one, so a project upgrading from
// the predecessor tool keeps its .gitignore intact.
func splitManagedBlock(path string) (before, managed, after []string, err error) {
	data, readErr := os.ReadFile(path)
	if os.IsNotExist(readErr) {
		return nil, nil, nil, nil
	}
	if readErr != nil {
		return nil, nil, nil, agpmerrors.Filesystem(readErr, "reading .gitignore")
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	startIdx, endIdx := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == managedStartMarker || trimmed == legacyManagedStartMarker {
			startIdx = i
		}
		if (trimmed == managedEndMarker || trimmed == legacyManagedEndMarker) && startIdx >= 0 {
			endIdx = i
			break
		}
	}

	if startIdx < 0 || endIdx < 0 {
		return lines, nil, nil, nil
	}

	before = lines[:startIdx]
	after = lines[endIdx+1:]
	for _, l := range lines[startIdx+1 : endIdx] {
		if l = strings.TrimSpace(l); l != "" {
			managed = append(managed, l)
		}
	}
	return before, managed, after, nil
}

func writeGitignore(path string, before, managed, after []string) error {
	var buf bytes.Buffer
	for _, l := range before {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	if len(before) > 0 && len(strings.TrimSpace(before[len(before)-1])) != 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString(managedStartMarker)
	buf.WriteByte('\n')
	for _, p := range managed {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	buf.WriteString(managedEndMarker)
	buf.WriteByte('\n')
	for _, l := range after {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".gitignore.tmp-*")
	if err != nil {
		return agpmerrors.Filesystem(err, "creating temp .gitignore")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "writing temp .gitignore")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "closing temp .gitignore")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "renaming temp .gitignore")
	}
	return nil
}
