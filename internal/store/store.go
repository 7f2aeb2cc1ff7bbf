package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Pipeline collects mutations that are applied atomically by Store.Pipeline.
type Pipeline interface {
	Set(key, value string)
	Del(key string)
	SAdd(key, member string)
	SRem(key, member string)
}

// Store is the shared-state backend for the wallet pool and beacon
// type registry. All operations are safe for concurrent use across
// processes.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetNX writes value at key with the given TTL only if the key
	// does not exist. Returns true if the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes key. Removing a missing key is not an error.
	Del(ctx context.Context, key string) error

	// CompareAndDelete removes key only if its current value equals
	// expect. Returns true if the key was removed.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)

	// CompareAndExpire resets key's TTL only if its current value
	// equals expect. Returns true if the TTL was reset.
	CompareAndExpire(ctx context.Context, key, expect string, ttl time.Duration) (bool, error)

	// SAdd adds member to the set at key.
	SAdd(ctx context.Context, key, member string) error

	// SRem removes member from the set at key.
	SRem(ctx context.Context, key, member string) error

	// SMembers returns all members of the set at key. A missing set
	// is an empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SIsMember reports whether member is in the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Pipeline applies every mutation recorded by fn atomically.
	Pipeline(ctx context.Context, fn func(p Pipeline)) error

	// Close releases the underlying connection.
	Close() error
}
