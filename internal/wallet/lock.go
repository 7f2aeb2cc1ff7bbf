package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/store"
)

// ErrLockHeld is returned when a wallet's lock is held by another
// process and every acquisition attempt timed out.
var ErrLockHeld = errors.New("wallet lock held by another process")

// Locker hands out TTL-bounded exclusive locks on wallet addresses.
// The TTL bounds how long a crashed holder can keep a wallet stuck.
type Locker struct {
	store      store.Store
	keys       store.Keys
	instanceID string
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewLocker builds a Locker. instanceID is embedded in every lock
// token so a holder can be traced back to its process.
func NewLocker(s store.Store, keys store.Keys, instanceID string, ttl time.Duration, retries int, retryDelay time.Duration, logger *zap.Logger) *Locker {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return &Locker{
		store:      s,
		keys:       keys,
		instanceID: instanceID,
		ttl:        ttl,
		retries:    retries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Lock is a held wallet lock. Release it exactly once; releasing a
// lock that already expired is harmless because release compares the
// holder token before deleting.
type Lock struct {
	locker  *Locker
	address string
	token   string
}

// Address returns the locked wallet address.
func (l *Lock) Address() string { return l.address }

// TryAcquire makes a single attempt to take the lock on address.
// Returns nil, ErrLockHeld when someone else holds it.
func (lk *Locker) TryAcquire(ctx context.Context, address string) (*Lock, error) {
	token := lk.instanceID + ":" + uuid.NewString()
	ok, err := lk.store.SetNX(ctx, lk.keys.WalletLock(address), token, lk.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", address, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	lk.logger.Debug("wallet lock acquired",
		zap.String("wallet", address),
		zap.String("token", token))
	return &Lock{locker: lk, address: address, token: token}, nil
}

// Acquire takes the lock on address, retrying with a fixed delay up
// to the configured attempt count before giving up with ErrLockHeld.
func (lk *Locker) Acquire(ctx context.Context, address string) (*Lock, error) {
	attempts := lk.retries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		lock, err := lk.TryAcquire(ctx, address)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lk.retryDelay):
		}
	}
	return nil, fmt.Errorf("wallet %s: %w", address, ErrLockHeld)
}

// Extend resets the lock TTL if this process still holds it. Returns
// false when the lock expired and may now belong to someone else.
func (l *Lock) Extend(ctx context.Context) (bool, error) {
	ok, err := l.locker.store.CompareAndExpire(ctx, l.locker.keys.WalletLock(l.address), l.token, l.locker.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to extend lock for %s: %w", l.address, err)
	}
	return ok, nil
}

// Release gives the lock back. Deletion happens only if the stored
// token still matches, so a late release after expiry cannot remove
// a lock another process has since taken.
func (l *Lock) Release(ctx context.Context) error {
	ok, err := l.locker.store.CompareAndDelete(ctx, l.locker.keys.WalletLock(l.address), l.token)
	if err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", l.address, err)
	}
	if !ok {
		l.locker.logger.Warn("wallet lock already expired or taken over",
			zap.String("wallet", l.address),
			zap.String("token", l.token))
	}
	return nil
}

// Close releases the lock in the background so callers on hot paths
// never wait on the store round trip. Failures only log; the TTL
// reclaims the lock regardless.
func (l *Lock) Close() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Release(ctx); err != nil {
			l.locker.logger.Warn("async lock release failed, TTL will reclaim",
				zap.String("wallet", l.address),
				zap.Error(err))
		}
	}()
}
