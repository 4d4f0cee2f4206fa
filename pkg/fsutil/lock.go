package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	runLockDirName   = ".airplay.lock"
	runLockOwnerFile = "owner.json"
)

// ErrLocked is returned when another run holds the lock
var ErrLocked = errors.New("run directory is locked")

// RunLock guards a working directory against concurrent runs
type RunLock struct {
	lockDir string
}

type runLockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireRunLock creates the lock directory inside dir
func AcquireRunLock(dir, runID string) (RunLock, error) {
	target := strings.TrimSpace(dir)
	if target == "" {
		return RunLock{}, fmt.Errorf("run directory is required")
	}
	if err := Mkdir(target); err != nil {
		return RunLock{}, err
	}

	lockDir := filepath.Join(target, runLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			var owner runLockOwner
			if readErr := ReadJSON(filepath.Join(lockDir, runLockOwnerFile), &owner); readErr == nil && owner.PID > 0 {
				return RunLock{}, fmt.Errorf("%w: %s (pid=%d run=%s created_at=%s host=%s)",
					ErrLocked, target, owner.PID, owner.RunID, owner.CreatedAt, owner.Hostname)
			}
			return RunLock{}, fmt.Errorf("%w: %s", ErrLocked, target)
		}
		return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
	}

	owner := runLockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, runLockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(lockDir)
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}

	return RunLock{lockDir: lockDir}, nil
}

// Release removes the lock directory
func (l RunLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	if err := os.RemoveAll(l.lockDir); err != nil {
		return fmt.Errorf("release run lock %s: %w", l.lockDir, err)
	}
	return nil
}

// Close implements io.Closer so the lock can be registered for shutdown
func (l RunLock) Close() error {
	return l.Release()
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}
