package store

import (
	"context"
	"errors"

	"github.com/stately-io/stately/internal/ir"
)

var (
	// ErrNotFound means no document has ever been written at the path.
	ErrNotFound = errors.New("state document not found")

	// ErrConflict means the stored version did not match the expected version.
	// The write did not mutate storage.
	ErrConflict = errors.New("state version conflict")

	// ErrStorageUnavailable marks a transient backend fault, retryable by the
	// caller.
	ErrStorageUnavailable = errors.New("state storage unavailable")
)

// Store is durable, versioned storage for state documents addressed by a
// logical path. Every successful Write persists an immutable snapshot of the
// new version before moving the current pointer, so any retained version can
// be read back.
type Store interface {
	// Read returns the current document and its version.
	Read(ctx context.Context, path string) (*ir.StateDocument, int64, error)

	// Write stores doc as the next version of path. It succeeds only if the
	// stored version equals expectedVersion (0 for a path never written) and
	// returns the new version; on mismatch it returns ErrConflict without
	// mutating storage. The document's Version field is stamped with the new
	// version.
	Write(ctx context.Context, path string, doc *ir.StateDocument, expectedVersion int64) (int64, error)

	// ListVersions returns the retained versions of path, oldest first.
	ListVersions(ctx context.Context, path string) ([]ir.VersionInfo, error)

	// ReadVersion returns a retained historical version of path.
	ReadVersion(ctx context.Context, path string, version int64) (*ir.StateDocument, error)
}

// RetentionPolicy bounds the growth of version history. KeepLast == 0 keeps
// every version.
type RetentionPolicy struct {
	KeepLast int `json:"keepLast"`
}

func (p RetentionPolicy) keeps(total int) int {
	if p.KeepLast <= 0 || total <= p.KeepLast {
		return total
	}
	return p.KeepLast
}
