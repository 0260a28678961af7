package lock

import (
	"context"
	"errors"
	"time"

	"github.com/stately-io/stately/internal/ir"
)

var (
	// ErrLocked means a non-expired lock is held by a different holder.
	// Retryable by the caller with backoff.
	ErrLocked = errors.New("state path is locked")

	// ErrNotHolder means the supplied holder or fencing token does not match
	// the stored lock.
	ErrNotHolder = errors.New("lock not held by caller")

	// ErrExpired means the lock's TTL elapsed before the operation; the holder
	// must re-acquire, not renew.
	ErrExpired = errors.New("lock expired")
)

// Manager grants at most one non-expired lock per state path. Acquisition is a
// single atomic compare-and-set against the backing store; an expired entry is
// treated as absent. Every successful Acquire or Renew issues a new fencing
// token, strictly monotonic per path across the lifetime of the backend.
type Manager interface {
	// Acquire takes the lock on path for holder. It is re-entrant for the same
	// holder: the TTL is extended and a fresh fencing token issued. A live lock
	// held by someone else yields ErrLocked.
	Acquire(ctx context.Context, path, holder string, ttl time.Duration) (*ir.LockEntry, error)

	// Release drops the lock if holder and token match the stored entry.
	Release(ctx context.Context, path, holder string, token uint64) error

	// Renew extends a live lock and issues a new fencing token. A lock that
	// expired or was taken over yields ErrExpired.
	Renew(ctx context.Context, path, holder string, token uint64, ttl time.Duration) (*ir.LockEntry, error)

	// Inspect returns the current entry for path, or nil when unlocked.
	// Expired entries are reported as unlocked.
	Inspect(ctx context.Context, path string) (*ir.LockEntry, error)

	// ForceUnlock deletes the entry regardless of holder or token. An
	// administrative override: misuse can cause a lost-update race, so every
	// call is logged.
	ForceUnlock(ctx context.Context, path string) error

	// SweepExpired removes expired entries and reports how many were reaped.
	SweepExpired(ctx context.Context) (int, error)
}
