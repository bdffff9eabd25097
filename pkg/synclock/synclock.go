// Package synclock coordinates access to shared cache state both within
// one process and across processes.
//
// Two levels are combined, mirroring the in-process channel-semaphore
// registry plus cross-process file lock split used elsewhere in the
// ecosystem for git worktree tooling: a mutex-guarded map of named in-process
// mutexes avoids redundant goroutines inside a single agpm invocation
// from racing each other, and a github.com/gofrs/flock file lock under
// the cache root's .locks directory serializes concurrent agpm processes
// (e.g. two terminals installing against the same cache).
package synclock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Scope names a lockable resource. Conventional forms used across the
// cache and resolver:
//
//	source:{name}                 - serializes operations on one manifest source
//	fetch:{owner}_{repo}          - serializes fetches into one bare repo
//	worktree:{owner}-{repo}-{sha8} - serializes creation of one worktree
//	bare-repo:{owner}_{repo}      - guards bare-repo existence checks and clone
type Scope string

// Coordinator owns the in-process mutex registry and knows where to put
// cross-process lock files.
type Coordinator struct {
	locksDir string

	mu        sync.Mutex
	inProcess map[Scope]*sync.Mutex
}

// New creates a Coordinator whose cross-process lock files live under
// {cacheRoot}/.locks.
func New(cacheRoot string) *Coordinator {
	return &Coordinator{
		locksDir:  filepath.Join(cacheRoot, ".locks"),
		inProcess: make(map[Scope]*sync.Mutex),
	}
}

func (c *Coordinator) mutexFor(scope Scope) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.inProcess[scope]
	if !ok {
		m = &sync.Mutex{}
		c.inProcess[scope] = m
	}
	return m
}

func (c *Coordinator) lockFilePath(scope Scope) string {
	// Scope values are built from path-safe components (owner_repo,
	// sha8 hex, etc.) but sanitize defensively against path separators.
	name := filepath.Clean(string(scope))
	name = filepath_ToSlashSafe(name)
	return filepath.Join(c.locksDir, name+".lock")
}

func filepath_ToSlashSafe(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '/', '\\', ':':
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// Unlocker releases both lock levels acquired by Lock/TryLockContext.
type Unlocker struct {
	mu   *sync.Mutex
	flk  *flock.Flock
}

// Unlock releases the cross-process file lock first, then the
// in-process mutex.
func (u *Unlocker) Unlock() {
	if u.flk != nil {
		_ = u.flk.Unlock()
	}
	if u.mu != nil {
		u.mu.Unlock()
	}
}

// Lock blocks until scope is held both in-process and cross-process.
// The returned Unlocker must be used to release it.
func (c *Coordinator) Lock(ctx context.Context, scope Scope) (*Unlocker, error) {
	m := c.mutexFor(scope)
	m.Lock()

	if err := os.MkdirAll(c.locksDir, 0o755); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("creating locks dir: %w", err)
	}

	flk := flock.New(c.lockFilePath(scope))
	if err := flk.Lock(); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("acquiring file lock for %s: %w", scope, err)
	}

	return &Unlocker{mu: m, flk: flk}, nil
}

// TryLockContext attempts to acquire scope, retrying at the given
// interval until ctx is done. Returns (nil, ctx.Err()) on timeout.
func (c *Coordinator) TryLockContext(ctx context.Context, scope Scope, retry time.Duration) (*Unlocker, error) {
	m := c.mutexFor(scope)

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := os.MkdirAll(c.locksDir, 0o755); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("creating locks dir: %w", err)
	}

	flk := flock.New(c.lockFilePath(scope))
	ok, err := flk.TryLockContext(ctx, retry)
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("acquiring file lock for %s: %w", scope, err)
	}
	if !ok {
		m.Unlock()
		return nil, ctx.Err()
	}

	return &Unlocker{mu: m, flk: flk}, nil
}

// SourceScope returns the lock scope for operations on a named manifest source.
func SourceScope(name string) Scope { return Scope("source:" + name) }

// FetchScope returns the lock scope serializing fetches into a bare repo.
func FetchScope(ownerRepo string) Scope { return Scope("fetch:" + ownerRepo) }

// WorktreeScope returns the lock scope for creating one worktree.
func WorktreeScope(owner, repo, sha8 string) Scope {
	return Scope(fmt.Sprintf("worktree:%s-%s-%s", owner, repo, sha8))
}

// BareRepoScope returns the lock scope guarding a bare repo's existence/clone.
func BareRepoScope(owner, repo string) Scope {
	return Scope(fmt.Sprintf("bare-repo:%s_%s", owner, repo))
}
