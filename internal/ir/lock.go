package ir

import "time"

// LockEntry is the ephemeral record guarding exclusive access to a state path.
// Entries are never mutated in place: a refresh writes a new entry with a new
// fencing token.
type LockEntry struct {
	Path         string    `json:"path"`
	Holder       string    `json:"holder"`
	FencingToken uint64    `json:"fencingToken"` // strictly monotonic per path
	AcquiredAt   time.Time `json:"acquiredAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the lock's TTL has elapsed at the given instant.
// An expired entry is treated as absent by the lock manager.
func (l *LockEntry) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
