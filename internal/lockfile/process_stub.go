//go:build !unix

package lockfile

// isProcessRunning cannot be answered portably without signal(0) support;
// report the owner as alive so a held lock is never stolen on platforms
// where liveness can't be probed.
func isProcessRunning(pid int) bool {
	return pid > 0
}
