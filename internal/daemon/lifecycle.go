package daemon

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// LifecycleManager owns the files that mark a running daemon: the instance
// lock and the pid file beside it.
type LifecycleManager struct {
	lockFile   *LockFile
	pidFile    *PIDFile
	socketPath string
}

func NewLifecycleManager(lockPath, socketPath string) *LifecycleManager {
	return &LifecycleManager{
		lockFile:   NewLockFile(lockPath),
		pidFile:    NewPIDFile(strings.TrimSuffix(lockPath, ".lock") + ".pid"),
		socketPath: socketPath,
	}
}

func (lm *LifecycleManager) AcquireInstanceLock() error {
	if err := lm.lockFile.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	return nil
}

func (lm *LifecycleManager) RegisterRunningDaemon() error {
	return lm.pidFile.Write()
}

// RunningPID reports the pid of a live daemon, if any.
func (lm *LifecycleManager) RunningPID() (int, bool) {
	return lm.pidFile.Alive()
}

// SocketResponsive reports whether something accepts connections on the
// daemon socket.
func (lm *LifecycleManager) SocketResponsive() bool {
	conn, err := net.DialTimeout("unix", lm.socketPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (lm *LifecycleManager) Cleanup() {
	lm.pidFile.Remove()
	lm.lockFile.Release()
}
