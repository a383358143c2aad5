package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	lockFileName = "task.lock"
	lockFileMode = 0o644
)

// Lock is a per-task advisory lock. Every mutating orchestrator operation
// takes it so two invocations racing on the same task id fail fast instead
// of interleaving writes.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock locks the task directory for exclusive mutation. The task
// must already exist; locking never creates state for an unknown id.
// Returns ErrLockHeld when another live process holds it.
func (s *Store) AcquireLock(id int) (*Lock, error) {
	if _, err := os.Stat(s.recordPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("stat task record %d: %w", id, err)
	}
	lockPath := filepath.Join(s.TaskDir(id), lockFileName)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, lockFileMode)
	if err != nil {
		return nil, fmt.Errorf("open task lock %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if isLockBusy(err) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, describeHolder(lockPath))
		}
		return nil, fmt.Errorf("lock task lock %s: %w", lockPath, err)
	}

	if err := writeLockInfo(file); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
		return nil, err
	}

	return &Lock{file: file, path: lockPath}, nil
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("unlock task lock %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove task lock %s: %w", l.path, err)
	}
	return nil
}

// writeLockInfo records holder metadata for diagnostics.
func writeLockInfo(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate task lock: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek task lock: %w", err)
	}
	payload := fmt.Sprintf("pid=%d\nstarted_at=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(payload); err != nil {
		return fmt.Errorf("write task lock: %w", err)
	}
	return nil
}

// describeHolder reads holder metadata from an existing lock file.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "held by another process"
	}
	var pid int
	var since string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ = strconv.Atoi(strings.TrimSpace(v))
		}
		if v, ok := strings.CutPrefix(line, "started_at="); ok {
			since = strings.TrimSpace(v)
		}
	}
	if pid > 0 {
		return fmt.Sprintf("held by pid %d since %s", pid, since)
	}
	return "held by another process"
}

// isLockBusy returns true when the lock is already held by another process.
func isLockBusy(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
