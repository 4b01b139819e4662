// Package maintenance implements the per-project filesystem maintenance
// lock: a single advisory lock file at <data_dir>/maintenance.lock acquired
// with an op tag (e.g. "overlay_sync:<ref>") for the duration of a sync.
// Built on gofrs/flock rather than internal/lockfile's raw flock helpers:
// a maintenance lock held across a multi-second sync needs the
// blocking-with-timeout acquire that TryLockContext gives directly.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Lock wraps one advisory lock file plus the op tag that currently holds
// it, written into the file's contents purely for operator debuggability
// (cat maintenance.lock while a sync is stuck).
type Lock struct {
	fl  *flock.Flock
	tag string
}

// Acquire blocks (polling every 25ms) until the lock is free or ctx is
// done, then records tag as the current holder. Only one sync may hold the
// project-level lock at a time, independent of the per-ref unique-active-job
// index — this is the filesystem-level half of "ensure single active sync".
func Acquire(ctx context.Context, dataDir, tag string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("maintenance: mkdir data dir: %w", err)
	}
	path := filepath.Join(dataDir, "maintenance.lock")
	fl := flock.New(path)

	locked, err := fl.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("maintenance: acquire lock for %q: %w", tag, err)
	}
	if !locked {
		return nil, fmt.Errorf("maintenance: lock %q busy", tag)
	}
	_ = os.WriteFile(path, []byte(fmt.Sprintf("%s pid=%d at=%s\n", tag, os.Getpid(), time.Now().UTC().Format(time.RFC3339))), 0o644)
	return &Lock{fl: fl, tag: tag}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
