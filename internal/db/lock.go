package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName     = "db.lock"
	syncLockFileName = "sync.lock"
	lockWait         = 500 * time.Millisecond
	initialBackoff   = 5 * time.Millisecond
	maxBackoff       = 50 * time.Millisecond
)

// LockTimeoutError is returned when another teer process (usually the
// background agent in the middle of a sync) kept the store locked for longer
// than the wait allowed.
type LockTimeoutError struct {
	Wait   time.Duration
	Holder lockHolder
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("store busy: write lock timeout after %v (held by %s)", e.Wait, e.Holder)
}

// IsLockTimeout reports whether err is a *LockTimeoutError.
func IsLockTimeout(err error) bool {
	var le *LockTimeoutError
	return errors.As(err, &le)
}

// ErrSyncLocked is returned by LockSync while another process holds the
// sync lock.
var ErrSyncLocked = errors.New("another teer process is syncing")

// LockSync takes the cross-process sync lock without waiting and returns its
// release func. Only one process may drain the pending queue at a time; the
// lock is separate from the write lock so a running sync does not block
// ordinary writes.
func (db *DB) LockSync() (unlock func(), err error) {
	if err := os.MkdirAll(db.dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	l := &writeLocker{lockPath: filepath.Join(db.dir, syncLockFileName)}
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open sync lock: %w", err)
	}
	l.lockFile = f
	if err := l.tryLock(); err != nil {
		l.closeFile()
		return nil, fmt.Errorf("%w (held by %s)", ErrSyncLocked, readHolder(l.lockPath))
	}
	l.stamp()
	return func() { l.release() }, nil
}

// lockHolder is the diagnostic record written into the lock file.
type lockHolder struct {
	PID     int
	Command string
	Since   string
	Stale   bool
}

func (h lockHolder) String() string {
	if h.PID == 0 {
		return "unknown"
	}
	s := fmt.Sprintf("pid:%d", h.PID)
	if h.Command != "" {
		s += " (" + h.Command + ")"
	}
	if h.Since != "" {
		s += " since " + h.Since
	}
	if h.Stale {
		s += " [stale]"
	}
	return s
}

// writeLocker serializes writes to the store across processes. The CLI and
// the agent share one data directory, so an in-process mutex is not enough.
// The OS drops the lock if the holder dies.
type writeLocker struct {
	lockPath string
	lockFile *os.File
}

func newWriteLocker(dir string) *writeLocker {
	return &writeLocker{lockPath: filepath.Join(dir, lockFileName)}
}

// acquire takes the lock, polling with backoff until wait elapses or ctx ends.
func (l *writeLocker) acquire(ctx context.Context, wait time.Duration) error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	deadline := time.Now().Add(wait)
	backoff := initialBackoff
	for {
		if err := l.tryLock(); err == nil {
			l.stamp()
			return nil
		}
		if time.Now().After(deadline) {
			l.closeFile()
			return &LockTimeoutError{Wait: wait, Holder: readHolder(l.lockPath)}
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.closeFile()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *writeLocker) release() error {
	if l.lockFile == nil {
		return nil
	}
	l.lockFile.Truncate(0)
	l.unlock()
	l.closeFile()
	return nil
}

func (l *writeLocker) closeFile() {
	l.lockFile.Close()
	l.lockFile = nil
}

// stamp records who holds the lock so a timed-out waiter can say.
func (l *writeLocker) stamp() {
	l.lockFile.Truncate(0)
	l.lockFile.Seek(0, 0)
	fmt.Fprintf(l.lockFile, "pid:%d\ncmd:%s\ntime:%s\n", os.Getpid(), processCommand(), time.Now().Format(time.RFC3339))
	l.lockFile.Sync()
}

func readHolder(path string) lockHolder {
	var h lockHolder
	data, err := os.ReadFile(path)
	if err != nil {
		return h
	}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "cmd":
			h.Command = value
		case "time":
			h.Since = value
		}
	}
	if h.PID != 0 && !isProcessAlive(h.PID) {
		h.Stale = true
	}
	return h
}

// processCommand is "teer agent", "teer sync" and so on.
func processCommand() string {
	parts := []string{filepath.Base(os.Args[0])}
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		parts = append(parts, os.Args[1])
	}
	return strings.Join(parts, " ")
}
