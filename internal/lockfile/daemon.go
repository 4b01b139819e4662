package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DaemonLock guards a workspace against two concurrent `cruxe serve`
// daemons: an exclusive flock on <dir>/cruxe.lock plus a PID record for
// stale-owner detection. Unlike the per-operation maintenance lock, this
// lock is held for the daemon's whole lifetime.
type DaemonLock struct {
	file *os.File
	path string
}

// AcquireDaemon takes the daemon lock for dir (created if absent). If a
// previous daemon crashed without unlocking, its PID record is probed; a
// dead owner's lock file is stolen, a live one yields ErrLocked.
func AcquireDaemon(dir string) (*DaemonLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, "cruxe.lock")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open daemon lock: %w", err)
	}

	if err := FlockExclusiveNonBlocking(f); err != nil {
		// The flock is held; check whether the recorded owner is still
		// alive before giving up, since flock state does not survive the
		// owner's crash but the PID record can disagree after an unclean
		// copy of the lock file.
		pid := readLockPID(f)
		f.Close()
		if pid > 0 && !isProcessRunning(pid) {
			// Dead owner: remove and retry once.
			_ = os.Remove(path)
			f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
			if err != nil {
				return nil, fmt.Errorf("reopen daemon lock: %w", err)
			}
			if err := FlockExclusiveNonBlocking(f); err != nil {
				f.Close()
				return nil, ErrLocked
			}
		} else {
			return nil, ErrLocked
		}
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
		_ = f.Sync()
	}
	return &DaemonLock{file: f, path: path}, nil
}

// Release drops the flock and removes the lock file.
func (l *DaemonLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := FlockUnlock(l.file)
	cerr := l.file.Close()
	_ = os.Remove(l.path)
	l.file = nil
	if err != nil {
		return err
	}
	return cerr
}

func readLockPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
