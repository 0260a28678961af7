package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stately-io/stately/internal/ir"
	"github.com/stately-io/stately/internal/logging"
)

// memManager is an in-memory Manager for tests and single-process use.
type memManager struct {
	mu      sync.Mutex
	entries map[string]*ir.LockEntry
	tokens  map[string]uint64 // next fencing token per path, survives release
	now     func() time.Time
}

// NewMem returns an empty in-memory lock manager.
func NewMem() Manager {
	return &memManager{
		entries: make(map[string]*ir.LockEntry),
		tokens:  make(map[string]uint64),
		now:     time.Now,
	}
}

func (m *memManager) Acquire(ctx context.Context, path, holder string, ttl time.Duration) (*ir.LockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.entries[path]; ok && !cur.Expired(now) && cur.Holder != holder {
		return nil, lockedErr(path, cur)
	}

	entry := m.issue(path, holder, now, ttl)
	return entry, nil
}

func (m *memManager) Release(ctx context.Context, path, holder string, token uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[path]
	if !ok || cur.Holder != holder || cur.FencingToken != token {
		return fmt.Errorf("%w: path %s", ErrNotHolder, path)
	}
	delete(m.entries, path)
	return nil
}

func (m *memManager) Renew(ctx context.Context, path, holder string, token uint64, ttl time.Duration) (*ir.LockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cur, ok := m.entries[path]
	if !ok || cur.Holder != holder || cur.FencingToken != token || cur.Expired(now) {
		return nil, fmt.Errorf("%w: path %s", ErrExpired, path)
	}

	return m.issue(path, holder, now, ttl), nil
}

func (m *memManager) Inspect(ctx context.Context, path string) (*ir.LockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[path]
	if !ok || cur.Expired(m.now()) {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

func (m *memManager) ForceUnlock(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logging.Warn("force-unlocking state path", "path", path)
	delete(m.entries, path)
	return nil
}

func (m *memManager) SweepExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	reaped := 0
	for path, cur := range m.entries {
		if cur.Expired(now) {
			delete(m.entries, path)
			reaped++
		}
	}
	return reaped, nil
}

// issue replaces the entry for path with a fresh one carrying the next fencing
// token. Callers hold m.mu.
func (m *memManager) issue(path, holder string, now time.Time, ttl time.Duration) *ir.LockEntry {
	m.tokens[path]++
	entry := &ir.LockEntry{
		Path:         path,
		Holder:       holder,
		FencingToken: m.tokens[path],
		AcquiredAt:   now,
		ExpiresAt:    now.Add(ttl),
	}
	m.entries[path] = entry
	cp := *entry
	return &cp
}

func lockedErr(path string, cur *ir.LockEntry) error {
	return fmt.Errorf("%w: path %s held by %s until %s (token %d)",
		ErrLocked, path, cur.Holder, cur.ExpiresAt.UTC().Format(time.RFC3339), cur.FencingToken)
}
