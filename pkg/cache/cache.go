// Package cache implements the on-disk git object cache: one bare
// repository per source, with an arbitrary number of worktrees checked
// out at pinned commit SHAs underneath it.
//
// The layout under the cache root is:
//
//	{root}/sources/{owner}_{repo}.git          - bare repository (shared objects)
//	{root}/worktrees/{owner}_{repo}_{sha8}     - one worktree per resolved commit
//	{root}/worktrees/.state.json               - worktree registry
//	{root}/.locks/                              - gofrs/flock cross-process lock files
//
// Concurrent agpm invocations (including concurrent goroutines within one
// resolve/install) racing to materialize the same worktree are
// coordinated through pkg/synclock plus an in-process pending/ready
// state machine, so the git worktree add is only ever run once per
// (source, sha) pair.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
	"github.com/agpm-dev/agpm/pkg/gitdriver"
	"github.com/agpm-dev/agpm/pkg/synclock"
)

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ParsedSource holds the owner/repo pair agpm derives from a clone URL,
// used to name bare repos and worktrees deterministically.
type ParsedSource struct {
	Owner string
	Repo  string
}

// ParseSourceURL extracts an owner/repo pair from a git URL (SSH or
// HTTPS form, GitHub/GitLab/Bitbucket-style paths). Unparseable URLs
// fall back to a sanitized single-segment name as Repo with an empty Owner.
func ParseSourceURL(url string) ParsedSource {
	trimmed := strings.TrimSuffix(url, ".git")
	trimmed = strings.TrimSuffix(trimmed, "/")

	var path string
	switch {
	case strings.Contains(trimmed, "://"):
		parts := strings.SplitN(trimmed, "://", 2)
		if len(parts) == 2 {
			if idx := strings.Index(parts[1], "/"); idx >= 0 {
				path = parts[1][idx+1:]
			}
		}
	case strings.Contains(trimmed, "@") && strings.Contains(trimmed, ":"):
		// scp-like syntax: git@host:owner/repo
		idx := strings.Index(trimmed, ":")
		path = trimmed[idx+1:]
	default:
		path = trimmed
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch len(segments) {
	case 0:
		return ParsedSource{}
	case 1:
		return ParsedSource{Repo: sanitize(segments[0])}
	default:
		return ParsedSource{
			Owner: sanitize(segments[len(segments)-2]),
			Repo:  sanitize(segments[len(segments)-1]),
		}
	}
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// BareRepoDirName is the directory name of the bare repo for this source.
func (p ParsedSource) BareRepoDirName() string {
	if p.Owner == "" {
		return p.Repo + ".git"
	}
	return p.Owner + "_" + p.Repo + ".git"
}

// key is the owner_repo form used in worktree directory names and lock scopes.
func (p ParsedSource) key() string {
	if p.Owner == "" {
		return p.Repo
	}
	return p.Owner + "_" + p.Repo
}

// worktreeEntry is one row of the on-disk registry, keyed externally by
// registry key in registryFile.Entries.
type worktreeEntry struct {
	Source        string `json:"source"`
	Version       string `json:"version"`
	Path          string `json:"path"`
	LastUsedEpoch int64  `json:"last_used_epoch"`
}

type registryFile struct {
	Entries map[string]worktreeEntry `json:"entries"`
}

// worktreeState is the in-process coordination record for one (source,
// sha) pair, preventing duplicate concurrent `git worktree add` calls.
type worktreeState struct {
	ready bool
	path  string
	err   error
	done  chan struct{}
}

// Cache manages the bare-repo and worktree layout under a root directory.
type Cache struct {
	root   string
	driver *gitdriver.Driver
	locks  *synclock.Coordinator
	logger *slog.Logger

	regMu sync.Mutex // serializes registry file reads/writes in-process

	pendingMu sync.Mutex
	pending   map[string]*worktreeState
}

// New creates a Cache rooted at root. root is created on first use.
func New(root string, driver *gitdriver.Driver, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		root:    root,
		driver:  driver,
		locks:   synclock.New(root),
		logger:  logger,
		pending: make(map[string]*worktreeState),
	}
}

func (c *Cache) reposDir() string     { return filepath.Join(c.root, "sources") }
func (c *Cache) worktreesDir() string { return filepath.Join(c.root, "worktrees") }
func (c *Cache) registryPath() string { return filepath.Join(c.worktreesDir(), ".state.json") }

// cacheDirHash8 is a short, stable fingerprint of the cache root, used
// as the leading component of a registry_key so registries copied
// between machines never collide across distinct cache roots.
func (c *Cache) cacheDirHash8() string {
	sum := sha256.Sum256([]byte(c.root))
	return hex.EncodeToString(sum[:])[:8]
}

func registryKey(cacheDirHash8, sourceKey, sha string) string {
	return fmt.Sprintf("%s:%s:%s", cacheDirHash8, sourceKey, sha)
}

// GetOrCloneSource returns the bare repo directory for url, cloning it
// under BareRepoScope if it does not already exist, or fetching it if
// force is set.
func (c *Cache) GetOrCloneSource(ctx context.Context, url string, force bool) (string, error) {
	src := ParseSourceURL(url)
	bareDir := filepath.Join(c.reposDir(), src.BareRepoDirName())

	scope := synclock.BareRepoScope(src.Owner, src.Repo)
	unlock, err := c.locks.Lock(ctx, scope)
	if err != nil {
		return "", agpmerrors.Lock(err, "acquiring bare-repo lock")
	}
	defer unlock.Unlock()

	if _, err := os.Stat(bareDir); err == nil {
		if force {
			if ferr := c.driver.Fetch(ctx, bareDir); ferr != nil {
				return "", fmt.Errorf("refreshing %s: %w", url, ferr)
			}
		}
		return bareDir, nil
	}

	if err := os.MkdirAll(c.reposDir(), 0o755); err != nil {
		return "", agpmerrors.Filesystem(err, "creating repos directory")
	}

	c.logger.Info("cloning source", "url", url, "dir", bareDir)
	if err := c.driver.CloneBare(ctx, url, bareDir); err != nil {
		return "", fmt.Errorf("cloning %s: %w", url, err)
	}
	return bareDir, nil
}

// GetOrCreateWorktreeForSHA resolves sha (already-resolved, full 40-hex
// commit) to a worktree directory under url's bare repo, creating it if
// absent. Concurrent callers asking for the same (url, sha) converge on
// a single `git worktree add` invocation: the first caller creates it,
// later callers wait on the first caller's result.
func (c *Cache) GetOrCreateWorktreeForSHA(ctx context.Context, url, sha string) (string, error) {
	if !shaPattern.MatchString(sha) {
		return "", agpmerrors.Resolution(fmt.Errorf("not a full commit sha: %q", sha), "invalid worktree key")
	}

	src := ParseSourceURL(url)
	key := registryKey(c.cacheDirHash8(), src.key(), sha)

	if path, ok, err := c.lookupRegistry(key); err != nil {
		return "", err
	} else if ok {
		if verifyErr := c.driver.DiffIndexQuiet(ctx, path); verifyErr == nil {
			return path, nil
		}
		c.logger.Warn("registered worktree failed verification, recreating", "path", path, "sha", sha)
		_ = c.removeRegistryEntry(key)
	}

	state, owner := c.claim(key)
	if !owner {
		<-state.done
		return state.path, state.err
	}

	path, err := c.createWorktree(ctx, src, url, sha, key)

	c.pendingMu.Lock()
	state.path, state.err, state.ready = path, err, true
	close(state.done)
	delete(c.pending, key)
	c.pendingMu.Unlock()

	return path, err
}

// claim registers this goroutine as the creator for key if nobody else
// has, returning (state, true) when this caller owns creation or
// (state, false) when it must wait on another caller's state.done.
func (c *Cache) claim(key string) (*worktreeState, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if existing, ok := c.pending[key]; ok {
		return existing, false
	}
	state := &worktreeState{done: make(chan struct{})}
	c.pending[key] = state
	return state, true
}

func (c *Cache) createWorktree(ctx context.Context, src ParsedSource, url, sha, key string) (string, error) {
	bareDir, err := c.GetOrCloneSource(ctx, url, false)
	if err != nil {
		return "", err
	}

	if _, rerr := c.driver.ResolveRef(ctx, bareDir, sha); rerr != nil {
		c.logger.Info("sha not found locally, fetching", "sha", sha, "source", src.key())
		if ferr := c.driver.Fetch(ctx, bareDir); ferr != nil {
			return "", fmt.Errorf("fetching %s to resolve %s: %w", url, sha, ferr)
		}
	}

	sha8 := sha[:8]
	worktreeDir := filepath.Join(c.worktreesDir(), fmt.Sprintf("%s_%s", src.key(), sha8))

	scope := synclock.WorktreeScope(src.Owner, src.Repo, sha8)
	unlock, err := c.locks.Lock(ctx, scope)
	if err != nil {
		return "", agpmerrors.Lock(err, "acquiring worktree lock")
	}
	defer unlock.Unlock()

	if path, ok, lerr := c.lookupRegistry(key); lerr == nil && ok {
		if c.driver.DiffIndexQuiet(ctx, path) == nil {
			return path, nil
		}
	}

	if _, err := os.Stat(worktreeDir); err == nil {
		_ = os.RemoveAll(worktreeDir)
		_ = c.driver.PruneWorktrees(ctx, bareDir)
	}

	if err := os.MkdirAll(c.worktreesDir(), 0o755); err != nil {
		return "", agpmerrors.Filesystem(err, "creating worktrees directory")
	}

	if err := c.driver.CreateWorktree(ctx, bareDir, worktreeDir, sha); err != nil {
		return "", agpmerrors.Git(err, fmt.Sprintf("creating worktree for %s@%s", src.key(), sha8))
	}

	if err := c.driver.DiffIndexQuiet(ctx, worktreeDir); err != nil {
		return "", agpmerrors.Git(fmt.Errorf("worktree failed post-create verification: %w", err), "worktree accessibility check")
	}

	if err := c.putRegistryEntry(key, worktreeEntry{
		Source:        url,
		Version:       sha,
		Path:          worktreeDir,
		LastUsedEpoch: nowStamp().Unix(),
	}); err != nil {
		return "", err
	}

	return worktreeDir, nil
}

// nowStamp is factored out so tests can observe a deterministic value
// via a package-level override if ever needed; production uses the real clock.
var nowStamp = time.Now

func (c *Cache) loadRegistry() (registryFile, error) {
	data, err := os.ReadFile(c.registryPath())
	if os.IsNotExist(err) {
		return registryFile{Entries: map[string]worktreeEntry{}}, nil
	}
	if err != nil {
		return registryFile{}, agpmerrors.Filesystem(err, "reading worktree registry")
	}
	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return registryFile{}, agpmerrors.Filesystem(err, "parsing worktree registry")
	}
	if reg.Entries == nil {
		reg.Entries = map[string]worktreeEntry{}
	}
	return reg, nil
}

func (c *Cache) saveRegistry(reg registryFile) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return agpmerrors.Filesystem(err, "encoding worktree registry")
	}
	if err := os.MkdirAll(c.worktreesDir(), 0o755); err != nil {
		return agpmerrors.Filesystem(err, "creating worktrees directory")
	}
	tmp, err := os.CreateTemp(c.worktreesDir(), ".state.json.tmp-*")
	if err != nil {
		return agpmerrors.Filesystem(err, "creating temp registry file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "writing temp registry file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "closing temp registry file")
	}
	if err := os.Rename(tmpName, c.registryPath()); err != nil {
		os.Remove(tmpName)
		return agpmerrors.Filesystem(err, "renaming temp registry file")
	}
	return nil
}

// lookupRegistry returns a registered worktree's path, touching its
// last_used stamp on every hit.
func (c *Cache) lookupRegistry(key string) (path string, ok bool, err error) {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	reg, err := c.loadRegistry()
	if err != nil {
		return "", false, err
	}
	entry, found := reg.Entries[key]
	if !found {
		return "", false, nil
	}
	entry.LastUsedEpoch = nowStamp().Unix()
	reg.Entries[key] = entry
	if err := c.saveRegistry(reg); err != nil {
		return "", false, err
	}
	return entry.Path, true, nil
}

func (c *Cache) putRegistryEntry(key string, entry worktreeEntry) error {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	reg, err := c.loadRegistry()
	if err != nil {
		return err
	}
	reg.Entries[key] = entry
	return c.saveRegistry(reg)
}

func (c *Cache) removeRegistryEntry(key string) error {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	reg, err := c.loadRegistry()
	if err != nil {
		return err
	}
	delete(reg.Entries, key)
	return c.saveRegistry(reg)
}

// CleanupWorktree removes one worktree by (url, sha) from disk and the registry.
func (c *Cache) CleanupWorktree(ctx context.Context, url, sha string) error {
	src := ParseSourceURL(url)
	key := registryKey(c.cacheDirHash8(), src.key(), sha)

	path, ok, err := c.lookupRegistry(key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	bareDir := filepath.Join(c.reposDir(), src.BareRepoDirName())
	if _, statErr := os.Stat(bareDir); statErr == nil {
		_ = c.driver.RemoveWorktreeMetadata(ctx, bareDir, path)
	}
	if err := os.RemoveAll(path); err != nil {
		return agpmerrors.Filesystem(err, "removing worktree directory")
	}
	return c.removeRegistryEntry(key)
}

// CleanupAllWorktrees removes every registered worktree, keeping bare repos intact.
func (c *Cache) CleanupAllWorktrees(ctx context.Context) error {
	reg, err := c.loadRegistry()
	if err != nil {
		return err
	}
	var firstErr error
	for _, e := range reg.Entries {
		if err := os.RemoveAll(e.Path); err != nil && firstErr == nil {
			firstErr = agpmerrors.Filesystem(err, "removing worktree directory")
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return c.saveRegistry(registryFile{Entries: map[string]worktreeEntry{}})
}

// ClearAll removes the entire cache root, including bare repos.
func (c *Cache) ClearAll(ctx context.Context) error {
	if err := os.RemoveAll(c.root); err != nil {
		return agpmerrors.Filesystem(err, "clearing cache root")
	}
	return nil
}

// CleanUnused removes worktrees whose registry key is not present in keep.
func (c *Cache) CleanUnused(ctx context.Context, keep map[string]bool) error {
	reg, err := c.loadRegistry()
	if err != nil {
		return err
	}
	for key, e := range reg.Entries {
		if keep[key] {
			continue
		}
		if err := os.RemoveAll(e.Path); err != nil {
			return agpmerrors.Filesystem(err, "removing unused worktree")
		}
		delete(reg.Entries, key)
	}
	return c.saveRegistry(reg)
}

// GetCacheSize returns the total size in bytes of the cache root.
func (c *Cache) GetCacheSize() (int64, error) {
	var total int64
	err := filepath.Walk(c.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, agpmerrors.Filesystem(err, "walking cache root")
	}
	return total, nil
}
