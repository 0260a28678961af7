package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stately-io/stately/internal/ir"
)

// memStore is an in-memory Store used for tests and local experimentation.
// Documents are copied on the way in and out so callers never share memory
// with the store.
type memStore struct {
	mu        sync.Mutex
	retention RetentionPolicy
	paths     map[string]*memPath
}

type memPath struct {
	current  int64
	versions []memVersion
}

type memVersion struct {
	info ir.VersionInfo
	data []byte
}

// NewMem returns an empty in-memory store.
func NewMem(retention RetentionPolicy) Store {
	return &memStore{
		retention: retention,
		paths:     make(map[string]*memPath),
	}
}

func (s *memStore) Read(ctx context.Context, path string) (*ir.StateDocument, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.paths[path]
	if !ok || len(p.versions) == 0 {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	doc, err := decodeDocument(p.versions[len(p.versions)-1].data)
	if err != nil {
		return nil, 0, err
	}
	return doc, p.current, nil
}

func (s *memStore) Write(ctx context.Context, path string, doc *ir.StateDocument, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.paths[path]
	if !ok {
		p = &memPath{}
		s.paths[path] = p
	}

	if p.current != expectedVersion {
		return 0, fmt.Errorf("%w: path %s at version %d, expected %d", ErrConflict, path, p.current, expectedVersion)
	}

	newVersion := expectedVersion + 1
	doc.Version = newVersion

	data, err := encodeDocument(doc)
	if err != nil {
		return 0, err
	}

	p.current = newVersion
	p.versions = append(p.versions, memVersion{
		info: ir.VersionInfo{Version: newVersion, Timestamp: time.Now().UTC()},
		data: data,
	})
	if keep := s.retention.keeps(len(p.versions)); keep < len(p.versions) {
		p.versions = p.versions[len(p.versions)-keep:]
	}

	return newVersion, nil
}

func (s *memStore) ListVersions(ctx context.Context, path string) ([]ir.VersionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.paths[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	infos := make([]ir.VersionInfo, 0, len(p.versions))
	for _, v := range p.versions {
		infos = append(infos, v.info)
	}
	return infos, nil
}

func (s *memStore) ReadVersion(ctx context.Context, path string, version int64) (*ir.StateDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.paths[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	for _, v := range p.versions {
		if v.info.Version == version {
			return decodeDocument(v.data)
		}
	}
	return nil, fmt.Errorf("%w: %s version %d", ErrNotFound, path, version)
}

func encodeDocument(doc *ir.StateDocument) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state document: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (*ir.StateDocument, error) {
	var doc ir.StateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state document: %w", err)
	}
	return &doc, nil
}
