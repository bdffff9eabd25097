package synclock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockSerializesAccess(t *testing.T) {
	c := New(t.TempDir())
	scope := WorktreeScope("acme", "widgets", "deadbeef")

	var counter int32
	var maxObserved int32
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		go func() {
			ctx := context.Background()
			unlock, err := c.Lock(ctx, scope)
			if err != nil {
				t.Error(err)
				done <- struct{}{}
				return
			}
			n := atomic.AddInt32(&counter, 1)
			if n > maxObserved {
				maxObserved = n
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&counter, -1)
			unlock.Unlock()
			done <- struct{}{}
		}()
	}

	for i := 0; i < 5; i++ {
		<-done
	}

	if maxObserved > 1 {
		t.Errorf("observed %d concurrent holders, want at most 1", maxObserved)
	}
}

func TestDifferentScopesDoNotBlock(t *testing.T) {
	c := New(t.TempDir())
	ctx := context.Background()

	u1, err := c.Lock(ctx, SourceScope("one"))
	if err != nil {
		t.Fatal(err)
	}
	defer u1.Unlock()

	u2, err := c.Lock(ctx, SourceScope("two"))
	if err != nil {
		t.Fatal(err)
	}
	defer u2.Unlock()
}

func TestTryLockContextTimesOut(t *testing.T) {
	c := New(t.TempDir())
	scope := BareRepoScope("acme", "widgets")

	held, err := c.Lock(context.Background(), scope)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.TryLockContext(ctx, scope, 10*time.Millisecond)
	if err == nil {
		t.Error("TryLockContext() should time out while the scope is held")
	}
}

func TestScopeHelpers(t *testing.T) {
	if SourceScope("official") != "source:official" {
		t.Errorf("SourceScope() = %q", SourceScope("official"))
	}
	if FetchScope("acme_widgets") != "fetch:acme_widgets" {
		t.Errorf("FetchScope() = %q", FetchScope("acme_widgets"))
	}
	if WorktreeScope("acme", "widgets", "abc12345") != "worktree:acme-widgets-abc12345" {
		t.Errorf("WorktreeScope() = %q", WorktreeScope("acme", "widgets", "abc12345"))
	}
	if BareRepoScope("acme", "widgets") != "bare-repo:acme_widgets" {
		t.Errorf("BareRepoScope() = %q", BareRepoScope("acme", "widgets"))
	}
}
