package lock

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestRegistry_SerializesSameKey(t *testing.T) {
	r := NewRegistry()

	// A plain read-sleep-write counter loses updates unless ops are
	// serialized; with the lock the final count must be exact.
	const workers = 20
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.WithLock("identity-a", func() error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
			if err != nil {
				t.Errorf("WithLock returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d (lost updates)", counter, workers)
	}
}

func TestRegistry_OpsNeverInterleave(t *testing.T) {
	r := NewRegistry()

	inside := 0
	maxInside := 0
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.WithLock("key", func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent op bodies for one key = %d, want 1", maxInside)
	}
}

func TestRegistry_DifferentKeysRunInParallel(t *testing.T) {
	r := NewRegistry()

	aHeld := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = r.WithLock("key-a", func() error {
			close(aHeld)
			<-release
			return nil
		})
	}()

	<-aHeld

	// key-b must not wait on key-a's holder.
	go func() {
		_ = r.WithLock("key-b", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("operation on a different key blocked behind an unrelated holder")
	}
	close(release)
}

func TestRegistry_PropagatesOpError(t *testing.T) {
	r := NewRegistry()
	want := errors.New("op failed")

	if err := r.WithLock("key", func() error { return want }); !errors.Is(err, want) {
		t.Errorf("WithLock error = %v, want %v", err, want)
	}
}

func TestRegistry_NoLingeringState(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.WithLock("key", func() error {
				time.Sleep(100 * time.Microsecond)
				return nil
			})
		}()
	}
	wg.Wait()

	if n := r.activeKeys(); n != 0 {
		t.Errorf("activeKeys() = %d after queue drained, want 0", n)
	}
}

func TestRegistry_ErrorStillReleasesLock(t *testing.T) {
	r := NewRegistry()

	_ = r.WithLock("key", func() error { return errors.New("boom") })

	done := make(chan struct{})
	go func() {
		_ = r.WithLock("key", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock not released after failed op")
	}
}

func TestFileLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "identity.lock")

	fl, err := AcquireFile(path)
	if err != nil {
		t.Fatalf("AcquireFile: %v", err)
	}

	if _, err := AcquireFile(path); !errors.Is(err, ErrLocked) {
		t.Errorf("second AcquireFile error = %v, want ErrLocked", err)
	}

	if err := fl.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	fl2, err := AcquireFile(path)
	if err != nil {
		t.Fatalf("AcquireFile after release: %v", err)
	}
	defer fl2.Release()
}

func TestFileLock_WaitTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.lock")

	fl, err := AcquireFile(path)
	if err != nil {
		t.Fatalf("AcquireFile: %v", err)
	}
	defer fl.Release()

	if _, err := AcquireFileWait(path, 60*time.Millisecond); !errors.Is(err, ErrLocked) {
		t.Errorf("AcquireFileWait error = %v, want wrapped ErrLocked", err)
	}
}

func TestFileLock_WaitSucceedsAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.lock")

	fl, err := AcquireFile(path)
	if err != nil {
		t.Fatalf("AcquireFile: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		fl.Release()
	}()

	fl2, err := AcquireFileWait(path, 2*time.Second)
	if err != nil {
		t.Fatalf("AcquireFileWait: %v", err)
	}
	fl2.Release()
}

func TestFileLock_ReleaseNilSafe(t *testing.T) {
	var fl *FileLock
	if err := fl.Release(); err != nil {
		t.Errorf("Release on nil lock = %v, want nil", err)
	}
}
