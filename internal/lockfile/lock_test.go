package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireDaemon(t *testing.T) {
	t.Run("acquires and records own PID", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := AcquireDaemon(dir)
		if err != nil {
			t.Fatalf("AcquireDaemon failed: %v", err)
		}
		defer lock.Release()

		data, err := os.ReadFile(filepath.Join(dir, "cruxe.lock"))
		if err != nil {
			t.Fatalf("failed to read lock file: %v", err)
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			t.Fatalf("lock file does not hold a PID: %q", data)
		}
		if pid != os.Getpid() {
			t.Errorf("PID mismatch: got %d, want %d", pid, os.Getpid())
		}
	})

	t.Run("creates the lock dir if absent", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", ".cruxe")

		lock, err := AcquireDaemon(dir)
		if err != nil {
			t.Fatalf("AcquireDaemon failed: %v", err)
		}
		defer lock.Release()

		if _, err := os.Stat(filepath.Join(dir, "cruxe.lock")); err != nil {
			t.Errorf("lock file not created: %v", err)
		}
	})

	t.Run("second acquire in same process is rejected", func(t *testing.T) {
		dir := t.TempDir()

		first, err := AcquireDaemon(dir)
		if err != nil {
			t.Fatalf("first AcquireDaemon failed: %v", err)
		}
		defer first.Release()

		// The holder (this process) is alive, so the second acquire must
		// not steal the lock.
		second, err := AcquireDaemon(dir)
		if err == nil {
			second.Release()
			t.Fatal("expected second AcquireDaemon to fail while first is held")
		}
		if !IsLocked(err) {
			t.Errorf("expected IsLocked error, got %v", err)
		}
	})

	t.Run("release allows reacquire", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := AcquireDaemon(dir)
		if err != nil {
			t.Fatalf("AcquireDaemon failed: %v", err)
		}
		if err := lock.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}

		again, err := AcquireDaemon(dir)
		if err != nil {
			t.Fatalf("reacquire after release failed: %v", err)
		}
		defer again.Release()
	})

	t.Run("release removes the lock file", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := AcquireDaemon(dir)
		if err != nil {
			t.Fatalf("AcquireDaemon failed: %v", err)
		}
		if err := lock.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "cruxe.lock")); !os.IsNotExist(err) {
			t.Errorf("lock file still present after release: %v", err)
		}
	})

	t.Run("release twice is a no-op", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := AcquireDaemon(dir)
		if err != nil {
			t.Fatalf("AcquireDaemon failed: %v", err)
		}
		if err := lock.Release(); err != nil {
			t.Fatalf("first Release failed: %v", err)
		}
		if err := lock.Release(); err != nil {
			t.Errorf("second Release should be a no-op, got %v", err)
		}
	})
}

func TestReadLockPID(t *testing.T) {
	t.Run("plain PID with newline", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cruxe.lock")
		if err := os.WriteFile(path, []byte("12345\n"), 0644); err != nil {
			t.Fatalf("failed to write lock file: %v", err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("failed to open lock file: %v", err)
		}
		defer f.Close()

		if pid := readLockPID(f); pid != 12345 {
			t.Errorf("PID mismatch: got %d, want %d", pid, 12345)
		}
	})

	t.Run("invalid content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cruxe.lock")
		if err := os.WriteFile(path, []byte("not-a-number"), 0644); err != nil {
			t.Fatalf("failed to write lock file: %v", err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("failed to open lock file: %v", err)
		}
		defer f.Close()

		if pid := readLockPID(f); pid != 0 {
			t.Errorf("expected pid=0 for invalid content, got %d", pid)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cruxe.lock")
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatalf("failed to write lock file: %v", err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("failed to open lock file: %v", err)
		}
		defer f.Close()

		if pid := readLockPID(f); pid != 0 {
			t.Errorf("expected pid=0 for empty file, got %d", pid)
		}
	})
}

func TestIsProcessRunning(t *testing.T) {
	t.Run("own process", func(t *testing.T) {
		if !isProcessRunning(os.Getpid()) {
			t.Error("expected own PID to be running")
		}
	})

	t.Run("invalid PIDs", func(t *testing.T) {
		if isProcessRunning(0) {
			t.Error("PID 0 must never report running")
		}
		if isProcessRunning(-1) {
			t.Error("negative PID must never report running")
		}
	})
}

func TestFlockExclusive(t *testing.T) {
	t.Run("flockExclusive returns errDaemonLocked when already locked", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.lock")

		f1, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			t.Fatalf("failed to open lock file: %v", err)
		}
		defer f1.Close()

		if err := FlockExclusiveNonBlocking(f1); err != nil {
			t.Fatalf("first lock failed: %v", err)
		}

		f2, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			t.Fatalf("failed to reopen lock file: %v", err)
		}
		defer f2.Close()

		// flock is per open-file-description: a second descriptor in the
		// same process still conflicts.
		err = FlockExclusiveNonBlocking(f2)
		if err != errDaemonLocked {
			t.Errorf("expected errDaemonLocked, got %v", err)
		}

		if err := FlockUnlock(f1); err != nil {
			t.Fatalf("unlock failed: %v", err)
		}
		if err := FlockExclusiveNonBlocking(f2); err != nil {
			t.Errorf("lock after unlock failed: %v", err)
		}
		_ = FlockUnlock(f2)
	})
}

func TestFlockShared(t *testing.T) {
	t.Run("two shared locks coexist", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.lock")

		f1, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			t.Fatalf("failed to open lock file: %v", err)
		}
		defer f1.Close()
		f2, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			t.Fatalf("failed to reopen lock file: %v", err)
		}
		defer f2.Close()

		if err := FlockSharedNonBlock(f1); err != nil {
			t.Fatalf("first shared lock failed: %v", err)
		}
		if err := FlockSharedNonBlock(f2); err != nil {
			t.Errorf("second shared lock should coexist, got %v", err)
		}
		_ = FlockUnlock(f1)
		_ = FlockUnlock(f2)
	})

	t.Run("exclusive blocked by shared", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.lock")

		f1, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			t.Fatalf("failed to open lock file: %v", err)
		}
		defer f1.Close()
		f2, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			t.Fatalf("failed to reopen lock file: %v", err)
		}
		defer f2.Close()

		if err := FlockSharedNonBlock(f1); err != nil {
			t.Fatalf("shared lock failed: %v", err)
		}
		if err := FlockExclusiveNonBlock(f2); err != ErrLockBusy {
			t.Errorf("expected ErrLockBusy, got %v", err)
		}
		_ = FlockUnlock(f1)
	})
}
