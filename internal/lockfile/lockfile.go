// Package lockfile keeps a single CitaBot process per state directory.
//
// Two bots sharing a state directory would both answer every WhatsApp
// message and race on the whatsmeow device store. The lock is an flock on
// <stateDir>/citabot.lock; the kernel drops it when the process exits,
// however it exits.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "citabot.lock"

// Owner describes the process holding the lock. It is written into the lock
// file so a second instance can tell the operator who is running.
type Owner struct {
	Transport string // whatsapp or twilio
	Addr      string // HTTP listen address
}

// Lock represents an active directory lock
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory
// when missing. When another process holds it the error is a *LockError.
func AcquireLock(stateDir string, owner Owner) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile AcquireLock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	// O_TRUNC is deferred until the lock is held so a losing process never
	// wipes the winner's owner information.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("lockfile state directory already in use", "lock_path", lockPath, "holder", holder, "error", err)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	slog.Info("lockfile acquired", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	info := map[string]string{
		"pid":     strconv.Itoa(os.Getpid()),
		"started": time.Now().UTC().Format(time.RFC3339),
	}
	if owner.Transport != "" {
		info["transport"] = owner.Transport
	}
	if owner.Addr != "" {
		info["addr"] = owner.Addr
	}
	if _, err := file.WriteAt([]byte(formatInfo(info)), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so no newcomer ever locks a file we then delete.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile remove failed", "lock_path", l.path, "error", err)
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", l.path, closeErr)
	}
	slog.Info("lockfile released", "lock_path", l.path)
	return nil
}

// LockError is returned when another process holds the state directory.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "another CitaBot instance is using this state directory (lock file %s)", e.LockPath)
	if e.Holder != "" {
		fmt.Fprintf(&sb, "; holder: %s", e.Holder)
	}
	fmt.Fprintf(&sb, "; if that process is gone, remove %s and start again", e.LockPath)
	return sb.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder summarizes the owner information of a held lock file.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	info := parseInfo(string(data))
	pid, _ := strconv.Atoi(info["pid"])
	if pid > 0 {
		state := "running"
		if !isProcessRunning(pid) {
			state = "not running"
		}
		info["pid"] = fmt.Sprintf("%d (%s)", pid, state)
	}
	return strings.ReplaceAll(strings.TrimSpace(formatInfo(info)), "\n", ", ")
}

// formatInfo renders key=value lines sorted by key.
func formatInfo(info map[string]string) string {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, info[k])
	}
	return sb.String()
}

// parseInfo reads key=value lines, ignoring anything else.
func parseInfo(content string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || k == "" {
			continue
		}
		info[k] = v
	}
	return info
}

// isProcessRunning sends signal 0, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
