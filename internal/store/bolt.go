package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/stately-io/stately/internal/ir"
)

var (
	bucketState         = []byte("state")
	bucketStateVersions = []byte("state_versions")
)

// boltStore is a Store backed by a single bbolt file. All mutation happens
// inside one write transaction, which gives the version compare-and-set for
// free: bbolt admits a single writer at a time.
type boltStore struct {
	db        *bolt.DB
	retention RetentionPolicy
}

// NewBolt returns a Store persisting into db. The database may be shared with
// the bolt lock manager; the two use disjoint buckets.
func NewBolt(db *bolt.DB, retention RetentionPolicy) (Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketState); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketStateVersions)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare state buckets: %w", err)
	}
	return &boltStore{db: db, retention: retention}, nil
}

// versionSnapshot is the stored envelope for one historical version. Data
// holds the (possibly encrypted) document JSON.
type versionSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
}

func (s *boltStore) Read(ctx context.Context, path string) (*ir.StateDocument, int64, error) {
	var doc *ir.StateDocument
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketState).Get([]byte(path))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		var err error
		doc, err = decryptDocument(raw)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return doc, doc.Version, nil
}

func (s *boltStore) Write(ctx context.Context, path string, doc *ir.StateDocument, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		current := tx.Bucket(bucketState)
		versions := tx.Bucket(bucketStateVersions)

		var storedVersion int64
		if raw := current.Get([]byte(path)); raw != nil {
			stored, err := decryptDocument(raw)
			if err != nil {
				return err
			}
			storedVersion = stored.Version
		}

		if storedVersion != expectedVersion {
			return fmt.Errorf("%w: path %s at version %d, expected %d", ErrConflict, path, storedVersion, expectedVersion)
		}

		newVersion = expectedVersion + 1
		doc.Version = newVersion

		data, err := encodeDocument(doc)
		if err != nil {
			return err
		}
		sealed, err := EncryptState(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt state: %w", err)
		}

		snap, err := json.Marshal(versionSnapshot{Timestamp: time.Now().UTC(), Data: sealed})
		if err != nil {
			return fmt.Errorf("failed to serialize version snapshot: %w", err)
		}
		if err := versions.Put(versionKey(path, newVersion), snap); err != nil {
			return err
		}
		if err := current.Put([]byte(path), sealed); err != nil {
			return err
		}

		return s.prune(versions, path)
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

func (s *boltStore) ListVersions(ctx context.Context, path string) ([]ir.VersionInfo, error) {
	var infos []ir.VersionInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketState).Get([]byte(path)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		c := tx.Bucket(bucketStateVersions).Cursor()
		prefix := versionPrefix(path)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var snap versionSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("failed to parse version snapshot: %w", err)
			}
			infos = append(infos, ir.VersionInfo{
				Version:   versionFromKey(k, prefix),
				Timestamp: snap.Timestamp,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (s *boltStore) ReadVersion(ctx context.Context, path string, version int64) (*ir.StateDocument, error) {
	var doc *ir.StateDocument
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketStateVersions).Get(versionKey(path, version))
		if raw == nil {
			return fmt.Errorf("%w: %s version %d", ErrNotFound, path, version)
		}
		var snap versionSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return fmt.Errorf("failed to parse version snapshot: %w", err)
		}
		var err error
		doc, err = decryptDocument(snap.Data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// prune removes the oldest retained versions beyond the retention policy.
func (s *boltStore) prune(versions *bolt.Bucket, path string) error {
	if s.retention.KeepLast <= 0 {
		return nil
	}

	prefix := versionPrefix(path)
	var keys [][]byte
	c := versions.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}

	for len(keys) > s.retention.KeepLast {
		if err := versions.Delete(keys[0]); err != nil {
			return err
		}
		keys = keys[1:]
	}
	return nil
}

func decryptDocument(raw []byte) (*ir.StateDocument, error) {
	plain, err := DecryptState(raw)
	if err != nil {
		return nil, err
	}
	return decodeDocument(plain)
}

func versionPrefix(path string) []byte {
	return append([]byte(path), 0)
}

// versionKey encodes the version big-endian so cursor order equals version
// order.
func versionKey(path string, version int64) []byte {
	key := versionPrefix(path)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(version))
	return append(key, buf[:]...)
}

func versionFromKey(key, prefix []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(prefix):]))
}
