// Package lockfile guards the AltTutor state directory so that only one process polls a bot
// token and writes the SQLite databases at a time.
//
// The lock is an flock(2) on a file in the state directory; the kernel drops it when the
// process exits, so a crash never leaves the directory locked.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "alttutor.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Info is the content of a lock file.
type Info struct {
	PID       int
	Transport string
	Started   time.Time
}

func (i Info) String() string {
	var parts []string
	if i.PID > 0 {
		state := "not running, stale lock"
		if isProcessRunning(i.PID) {
			state = "running"
		}
		parts = append(parts, fmt.Sprintf("PID %d (%s)", i.PID, state))
	}
	if i.Transport != "" {
		parts = append(parts, "transport "+i.Transport)
	}
	if !i.Started.IsZero() {
		parts = append(parts, "started "+i.Started.Format(time.RFC3339))
	}
	return strings.Join(parts, ", ")
}

// AcquireLock takes an exclusive lock on stateDir, creating the directory when needed.
// transport is recorded in the lock file for diagnostics. When another process holds the lock
// a *LockError describing it is returned.
func AcquireLock(stateDir, transport string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Lockfile AcquireLock attempting", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: the holder's information must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		existing, _ := ReadInfo(lockPath)
		slog.Error("Lockfile AcquireLock failed, state directory in use", "error", err, "lock_path", lockPath, "holder", existing.String())
		return nil, &LockError{LockPath: lockPath, Holder: existing, Cause: err}
	}

	info := Info{PID: os.Getpid(), Transport: transport, Started: time.Now().UTC()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Lockfile acquired state directory lock", "lock_path", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath}, nil
}

// Release drops the lock and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lockfile failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lockfile failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile failed to remove lock file", "error", err, "lock_path", l.path)
	}
	l.file = nil
	slog.Info("Lockfile released state directory lock", "lock_path", l.path)
	return nil
}

// LockError reports a state directory held by another process.
type LockError struct {
	LockPath string
	Holder   Info
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another AltTutor instance is using the same state directory (lock file %s)", e.LockPath)
	if holder := e.Holder.String(); holder != "" {
		fmt.Fprintf(&b, "; holder: %s", holder)
	}
	b.WriteString("; remove the lock file only if no other instance is running")
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\ntransport=%s\nstarted=%s\n", info.PID, info.Transport, info.Started.Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Lockfile failed to sync lock file", "error", err)
	}
	return nil
}

// ReadInfo parses the lock file at path. Unknown or malformed lines are skipped.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	return parseInfo(bufio.NewScanner(f)), nil
}

func parseInfo(sc *bufio.Scanner) Info {
	var info Info
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.PID = pid
			}
		case "transport":
			info.Transport = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.Started = t
			}
		}
	}
	return info
}

// isProcessRunning sends signal 0 to pid, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
