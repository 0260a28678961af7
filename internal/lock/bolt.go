package lock

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/stately-io/stately/internal/ir"
	"github.com/stately-io/stately/internal/logging"
)

var (
	bucketLocks      = []byte("locks")
	bucketLockTokens = []byte("lock_tokens")
)

// boltManager persists lock entries in a bbolt file. bbolt's single-writer
// transactions make Acquire an atomic check-and-put. Fencing counters live in
// their own bucket so they survive release and forced unlock.
type boltManager struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBolt returns a Manager persisting into db. The database may be shared
// with the bolt state store; the two use disjoint buckets.
func NewBolt(db *bolt.DB) (Manager, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLocks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketLockTokens)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare lock buckets: %w", err)
	}
	return &boltManager{db: db, now: time.Now}, nil
}

func (m *boltManager) Acquire(ctx context.Context, path, holder string, ttl time.Duration) (*ir.LockEntry, error) {
	var entry *ir.LockEntry
	err := m.db.Update(func(tx *bolt.Tx) error {
		now := m.now()
		cur, err := getEntry(tx, path)
		if err != nil {
			return err
		}
		if cur != nil && !cur.Expired(now) && cur.Holder != holder {
			return lockedErr(path, cur)
		}

		entry, err = issueEntry(tx, path, holder, now, ttl)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (m *boltManager) Release(ctx context.Context, path, holder string, token uint64) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		cur, err := getEntry(tx, path)
		if err != nil {
			return err
		}
		if cur == nil || cur.Holder != holder || cur.FencingToken != token {
			return fmt.Errorf("%w: path %s", ErrNotHolder, path)
		}
		return tx.Bucket(bucketLocks).Delete([]byte(path))
	})
}

func (m *boltManager) Renew(ctx context.Context, path, holder string, token uint64, ttl time.Duration) (*ir.LockEntry, error) {
	var entry *ir.LockEntry
	err := m.db.Update(func(tx *bolt.Tx) error {
		now := m.now()
		cur, err := getEntry(tx, path)
		if err != nil {
			return err
		}
		if cur == nil || cur.Holder != holder || cur.FencingToken != token || cur.Expired(now) {
			return fmt.Errorf("%w: path %s", ErrExpired, path)
		}

		entry, err = issueEntry(tx, path, holder, now, ttl)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (m *boltManager) Inspect(ctx context.Context, path string) (*ir.LockEntry, error) {
	var entry *ir.LockEntry
	err := m.db.View(func(tx *bolt.Tx) error {
		cur, err := getEntry(tx, path)
		if err != nil {
			return err
		}
		if cur != nil && !cur.Expired(m.now()) {
			entry = cur
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (m *boltManager) ForceUnlock(ctx context.Context, path string) error {
	logging.Warn("force-unlocking state path", "path", path)
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).Delete([]byte(path))
	})
}

func (m *boltManager) SweepExpired(ctx context.Context) (int, error) {
	reaped := 0
	err := m.db.Update(func(tx *bolt.Tx) error {
		now := m.now()
		locks := tx.Bucket(bucketLocks)

		var stale [][]byte
		c := locks.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var cur ir.LockEntry
			if err := json.Unmarshal(v, &cur); err != nil {
				return fmt.Errorf("failed to parse lock entry: %w", err)
			}
			if cur.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := locks.Delete(k); err != nil {
				return err
			}
			reaped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reaped, nil
}

func getEntry(tx *bolt.Tx, path string) (*ir.LockEntry, error) {
	raw := tx.Bucket(bucketLocks).Get([]byte(path))
	if raw == nil {
		return nil, nil
	}
	var entry ir.LockEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse lock entry: %w", err)
	}
	return &entry, nil
}

// issueEntry writes a fresh entry for path with the next fencing token.
func issueEntry(tx *bolt.Tx, path, holder string, now time.Time, ttl time.Duration) (*ir.LockEntry, error) {
	tokens := tx.Bucket(bucketLockTokens)

	var next uint64 = 1
	if raw := tokens.Get([]byte(path)); raw != nil {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := tokens.Put([]byte(path), buf[:]); err != nil {
		return nil, err
	}

	entry := &ir.LockEntry{
		Path:         path,
		Holder:       holder,
		FencingToken: next,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize lock entry: %w", err)
	}
	if err := tx.Bucket(bucketLocks).Put([]byte(path), raw); err != nil {
		return nil, err
	}
	return entry, nil
}
