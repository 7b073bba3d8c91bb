//go:build !unix

package daemon

import "os"

// Without flock the lock only guards against a second Acquire in this
// process.
func (l *LockFile) platformLock(_ *os.File) error {
	return nil
}

func (l *LockFile) platformUnlock(_ *os.File) {}

func processExists(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
