//go:build unix

package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriteLocker_StampsHolder(t *testing.T) {
	dir := t.TempDir()
	locker := newWriteLocker(dir)
	if err := locker.acquire(context.Background(), lockWait); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	h := readHolder(filepath.Join(dir, lockFileName))
	if h.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", h.PID, os.Getpid())
	}
	if h.Command == "" || h.Since == "" {
		t.Errorf("holder missing fields: %+v", h)
	}
	if h.Stale {
		t.Error("own process reported stale")
	}

	if err := locker.release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, lockFileName))
	if len(data) != 0 {
		t.Errorf("lock file not cleared on release: %q", data)
	}
}

func TestWriteLocker_SerializesWriters(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				locker := newWriteLocker(dir)
				if err := locker.acquire(ctx, 5*time.Second); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				val := atomic.LoadInt64(&counter)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, val+1)
				locker.release()
			}
		}()
	}
	wg.Wait()

	if counter != 40 {
		t.Errorf("counter = %d, want 40", counter)
	}
}

func TestWriteLocker_TimeoutNamesHolder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	held := newWriteLocker(dir)
	if err := held.acquire(ctx, lockWait); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.release()

	err := newWriteLocker(dir).acquire(ctx, 50*time.Millisecond)
	if !IsLockTimeout(err) {
		t.Fatalf("err = %v, want lock timeout", err)
	}
	var le *LockTimeoutError
	errors.As(err, &le)
	if le.Holder.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", le.Holder.PID, os.Getpid())
	}
	if !strings.Contains(err.Error(), "store busy") {
		t.Errorf("error = %q", err)
	}
}

func TestWriteLocker_ContextCancelled(t *testing.T) {
	dir := t.TempDir()

	held := newWriteLocker(dir)
	if err := held.acquire(context.Background(), lockWait); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.release()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err := newWriteLocker(dir).acquire(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("acquire kept waiting after cancel")
	}
}

func TestWriteLocker_ReleaseUnlocksForOthers(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := newWriteLocker(dir)
	if err := first.acquire(ctx, lockWait); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	first.release()

	second := newWriteLocker(dir)
	if err := second.acquire(ctx, lockWait); err != nil {
		t.Fatalf("second acquire after release: %v", err)
	}
	second.release()
}

func TestReadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), lockFileName)

	if h := readHolder(path); h.String() != "unknown" {
		t.Errorf("missing file holder = %q, want unknown", h)
	}

	os.WriteFile(path, []byte("pid:999999999\ncmd:teer agent\ntime:2026-01-02T03:04:05Z\n"), 0600)
	h := readHolder(path)
	if h.Command != "teer agent" || h.Since != "2026-01-02T03:04:05Z" {
		t.Errorf("holder = %+v", h)
	}
	if !h.Stale {
		t.Error("dead pid not reported stale")
	}
	if s := h.String(); !strings.Contains(s, "(teer agent)") || !strings.Contains(s, "[stale]") {
		t.Errorf("String() = %q", s)
	}
}

func TestLockSync_ExclusiveAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	first, second := New(dir), New(dir)

	unlock, err := first.LockSync()
	if err != nil {
		t.Fatalf("LockSync: %v", err)
	}
	if _, err := second.LockSync(); !errors.Is(err, ErrSyncLocked) {
		t.Fatalf("second LockSync: got %v, want ErrSyncLocked", err)
	}

	// The write lock is independent of the sync lock.
	w := newWriteLocker(dir)
	if err := w.acquire(context.Background(), lockWait); err != nil {
		t.Fatalf("write lock while syncing: %v", err)
	}
	w.release()

	unlock()
	again, err := second.LockSync()
	if err != nil {
		t.Fatalf("LockSync after release: %v", err)
	}
	again()
}
