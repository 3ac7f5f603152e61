package filelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cahq/orchestrator/internal/cherrors"
)

func TestTryAcquire_SecondCallerIsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.lock")
	a := New(path, true)
	b := New(path, true)

	ok, err := a.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("first TryAcquire: ok=%v err=%v", ok, err)
	}

	ok, err = b.TryAcquire()
	if err != nil {
		t.Fatalf("second TryAcquire: %v", err)
	}
	if ok {
		t.Fatal("expected second TryAcquire to report busy while the lockfile is fresh")
	}

	if err := a.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestTryAcquire_StealsStaleLockfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.lock")
	a := New(path, true)
	if ok, err := a.TryAcquire(); err != nil || !ok {
		t.Fatalf("first TryAcquire: ok=%v err=%v", ok, err)
	}

	old := time.Now().Add(-staleAfter - time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	b := New(path, true)
	ok, err := b.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire over stale lock: %v", err)
	}
	if !ok {
		t.Fatal("expected a stale lockfile to be stolen")
	}

	pid, ok := b.Holder()
	if !ok || pid != os.Getpid() {
		t.Fatalf("expected holder to be this process, got pid=%d ok=%v", pid, ok)
	}
}

func TestAcquire_BusyExhaustsRetriesAsLockBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json.lock")
	holder := New(path, false)
	if ok, err := holder.TryAcquire(); err != nil || !ok {
		t.Fatalf("holder TryAcquire: ok=%v err=%v", ok, err)
	}
	defer func() { _ = holder.Release() }()

	contender := New(path, false)
	err := contender.Acquire()
	if err == nil {
		t.Fatal("expected Acquire to fail while the lock is held fresh by another instance")
	}
	if !cherrors.Is(err, cherrors.LockBusy) {
		t.Fatalf("expected LockBusy, got %v", err)
	}
}

func TestWithLock_ReleasesAfterFn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json.lock")
	l := New(path, false)

	ran := false
	if err := WithLock(l, func() error {
		ran = true
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected lockfile to exist during WithLock, stat: %v", err)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lockfile removed after WithLock, stat err=%v", err)
	}
}

func TestWithLock_ReentrantNestedCallDoesNotReleaseEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json.lock")
	l := New(path, false)

	outerRanAfterInner := false
	err := WithLock(l, func() error {
		// Nested call on the same Lock, same goroutine: must not release
		// the lockfile out from under the still-running outer call.
		if err := WithLock(l, func() error { return nil }); err != nil {
			return err
		}
		if _, statErr := os.Stat(path); statErr != nil {
			t.Fatalf("expected lockfile to still exist after the nested WithLock returns, stat: %v", statErr)
		}
		outerRanAfterInner = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !outerRanAfterInner {
		t.Fatal("outer fn body did not complete")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected lockfile removed once the outermost WithLock returns, stat err=%v", statErr)
	}
}

func TestRelease_NoopWhenNotHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.lock")
	l := New(path, true)
	if err := l.Release(); err != nil {
		t.Fatalf("Release on a never-acquired lock should be a no-op, got %v", err)
	}
}

func TestHolder_UnreadableOrMissingReportsNotOk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.lock")
	l := New(path, true)
	if _, ok := l.Holder(); ok {
		t.Fatal("expected Holder to report not-ok for a missing lockfile")
	}
}
