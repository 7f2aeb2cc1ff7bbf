package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/store"
)

func testLocker(s store.Store) *Locker {
	return NewLocker(s, store.NewKeys("test:"), "inst-1", time.Minute, 3, time.Millisecond, zap.NewNop())
}

func TestLockExclusive(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	locker := testLocker(s)

	lock, err := locker.TryAcquire(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	if _, err := locker.TryAcquire(ctx, "0xwallet"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, err := locker.TryAcquire(ctx, "0xwallet"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestLockReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	locker := testLocker(s)

	lock, err := locker.TryAcquire(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("second release should be a no-op, got: %v", err)
	}
}

func TestLockReleaseDoesNotTouchForeignHolder(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	locker := testLocker(s)

	stale, err := locker.TryAcquire(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// Simulate lock expiry and takeover by another process.
	keys := store.NewKeys("test:")
	s.Del(ctx, keys.WalletLock("0xwallet"))
	fresh, err := locker.TryAcquire(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("takeover acquire failed: %v", err)
	}

	// The stale guard's release must not remove the fresh lock.
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release errored: %v", err)
	}
	if _, err := locker.TryAcquire(ctx, "0xwallet"); !errors.Is(err, ErrLockHeld) {
		t.Fatal("fresh lock should survive stale release")
	}
	fresh.Release(ctx)
}

func TestLockExtend(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	locker := testLocker(s)

	lock, err := locker.TryAcquire(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	ok, err := lock.Extend(ctx)
	if err != nil || !ok {
		t.Fatalf("extend on held lock: ok=%v err=%v", ok, err)
	}

	lock.Release(ctx)
	ok, err = lock.Extend(ctx)
	if err != nil {
		t.Fatalf("extend after release errored: %v", err)
	}
	if ok {
		t.Error("extend after release should report false")
	}
}

func TestAcquireRetriesThenGivesUp(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	locker := testLocker(s)

	held, err := locker.TryAcquire(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	start := time.Now()
	_, err = locker.Acquire(ctx, "0xwallet")
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	// 3 attempts with 2 delays between them.
	if elapsed := time.Since(start); elapsed < 2*time.Millisecond {
		t.Errorf("expected retries to take at least 2ms, took %v", elapsed)
	}
	held.Release(ctx)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	s := store.NewMemoryStore()
	locker := NewLocker(s, store.NewKeys("test:"), "inst-1", time.Minute, 100, 50*time.Millisecond, zap.NewNop())

	held, _ := locker.TryAcquire(context.Background(), "0xwallet")
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := locker.Acquire(ctx, "0xwallet")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	locker := testLocker(s)

	const goroutines = 16
	wins := make(chan *Lock, goroutines)
	done := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		go func() {
			lock, err := locker.TryAcquire(ctx, "0xwallet")
			if err == nil {
				wins <- lock
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly 1 winner, got %d", count)
	}
}
