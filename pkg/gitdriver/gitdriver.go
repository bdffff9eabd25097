// Package gitdriver shells out to a local git binary to implement the
// primitives the cache and resolver need: cloning a bare repository,
// fetching, resolving a ref to a commit SHA, creating a worktree at an
// exact SHA, pruning stale worktree metadata, and verifying a checkout
// is complete. It never prompts for credentials — all auth comes from
// the ambient git/ssh environment — following the subprocess-wrapping
// style of the teacher's pkg/repo/git.go and pkg/source/git.go.
package gitdriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
)

// Driver wraps invocations of the system git binary.
type Driver struct {
	// Binary is the git executable to invoke; defaults to "git" found on PATH.
	Binary string
}

// New creates a Driver using the "git" binary on PATH.
func New() *Driver {
	return &Driver{Binary: "git"}
}

func (d *Driver) bin() string {
	if d.Binary == "" {
		return "git"
	}
	return d.Binary
}

// run executes git with no stdin and no interactive prompt, returning
// combined output on failure for diagnostics.
func (d *Driver) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.bin(), args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), classifyError(err, string(out))
	}
	return string(out), nil
}

func classifyError(err error, output string) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "could not resolve host") ||
		strings.Contains(lower, "could not read from remote") ||
		strings.Contains(lower, "connection timed out") ||
		strings.Contains(lower, "network is unreachable"):
		return agpmerrors.Network(err, "git network operation failed")
	case strings.Contains(lower, "authentication failed") ||
		strings.Contains(lower, "permission denied (publickey)") ||
		strings.Contains(lower, "fatal: could not read username"):
		return agpmerrors.Network(fmt.Errorf("authentication failed: %w", err), "git auth")
	case strings.Contains(lower, "did not match any file(s) known to git") ||
		strings.Contains(lower, "couldn't find remote ref") ||
		strings.Contains(lower, "unknown revision or path not in the working tree"):
		return agpmerrors.Git(err, "ref not found")
	default:
		return agpmerrors.Git(err, "git command failed")
	}
}

// ErrRefNotFound is returned by ResolveRef when a ref cannot be resolved.
var ErrRefNotFound = errors.New("ref not found")

// CloneBare clones url as a bare repository into dir.
func (d *Driver) CloneBare(ctx context.Context, url, dir string) error {
	if _, err := d.run(ctx, "", "clone", "--bare", url, dir); err != nil {
		return fmt.Errorf("clone bare %s: %w", url, err)
	}
	d.tuneConnection(ctx, dir)
	return nil
}

// tuneConnection applies optional HTTP transport tuning to a bare repo;
// failures here are non-fatal (spec.md §4.1).
func (d *Driver) tuneConnection(ctx context.Context, dir string) {
	settings := [][]string{
		{"config", "http.version", "HTTP/2"},
		{"config", "http.postBuffer", "524288000"},
		{"config", "core.compression", "0"},
	}
	for _, args := range settings {
		_, _ = d.run(ctx, dir, args...)
	}
}

// Fetch fetches all refs (or a specific refspec) into the bare repo at dir.
func (d *Driver) Fetch(ctx context.Context, dir string, refspec ...string) error {
	args := append([]string{"fetch", "--prune", "origin"}, refspec...)
	if _, err := d.run(ctx, dir, args...); err != nil {
		return fmt.Errorf("fetch in %s: %w", dir, err)
	}
	return nil
}

// ResolveRef resolves ref (branch, tag, or commit-ish) against the bare
// repo at dir and returns the full 40-hex commit SHA.
func (d *Driver) ResolveRef(ctx context.Context, dir, ref string) (string, error) {
	out, err := d.run(ctx, dir, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("%s: %w", ref, ErrRefNotFound)
	}
	sha := strings.TrimSpace(out)
	if len(sha) != 40 {
		return "", fmt.Errorf("resolved ref %q to unexpected output %q: %w", ref, sha, ErrRefNotFound)
	}
	return sha, nil
}

// CreateWorktree creates a worktree at worktreeDir checked out to sha,
// using the bare repo at bareDir.
func (d *Driver) CreateWorktree(ctx context.Context, bareDir, worktreeDir, sha string) error {
	if _, err := d.run(ctx, bareDir, "worktree", "add", "--detach", worktreeDir, sha); err != nil {
		return fmt.Errorf("create worktree at %s: %w", sha, err)
	}
	return nil
}

// PruneWorktrees removes stale worktree administrative files from the bare repo.
func (d *Driver) PruneWorktrees(ctx context.Context, bareDir string) error {
	_, err := d.run(ctx, bareDir, "worktree", "prune")
	return err
}

// DiffIndexQuiet runs `git diff-index --quiet HEAD` inside worktreeDir to
// verify the working tree is a complete, consistent checkout: it attests
// index presence, HEAD validity, and working-tree completeness in one call.
func (d *Driver) DiffIndexQuiet(ctx context.Context, worktreeDir string) error {
	_, err := d.run(ctx, worktreeDir, "diff-index", "--quiet", "HEAD")
	return err
}

// IsAvailable reports whether the git binary can be invoked at all.
func (d *Driver) IsAvailable(ctx context.Context) error {
	if _, err := d.run(ctx, "", "--version"); err != nil {
		return fmt.Errorf("git is not available: %w", err)
	}
	return nil
}

// RemoveWorktreeMetadata runs `git worktree remove --force`, which removes
// the worktree's directory (if still present) and git's metadata for it.
func (d *Driver) RemoveWorktreeMetadata(ctx context.Context, bareDir, worktreeDir string) error {
	_, err := d.run(ctx, bareDir, "worktree", "remove", "--force", worktreeDir)
	return err
}
