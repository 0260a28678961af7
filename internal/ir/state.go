package ir

import (
	"fmt"
	"time"
)

// StateDocument is the serialized representation of all tracked resources for
// one state path.
type StateDocument struct {
	Version   int64             `json:"version"` // strictly increasing per successful write
	Serial    int64             `json:"serial"`  // logical clock distinguishing client pushes
	Lineage   string            `json:"lineage"`
	Resources []*ResourceRecord `json:"resources"`
	Outputs   map[string]any    `json:"outputs,omitempty"`
}

// NewStateDocument returns an empty document, used when a path has never been
// written.
func NewStateDocument() *StateDocument {
	return &StateDocument{
		Version: 0,
		Serial:  0,
	}
}

// Validate checks document-level invariants: resource addresses must be unique
// and dependencies must reference addresses, not arbitrary strings.
func (d *StateDocument) Validate() error {
	seen := make(map[string]bool, len(d.Resources))
	for _, res := range d.Resources {
		addr := res.Address()
		if seen[addr] {
			return fmt.Errorf("duplicate resource address %q in state document", addr)
		}
		seen[addr] = true
	}
	return nil
}

// Resource returns the record at the given address, or nil.
func (d *StateDocument) Resource(addr string) *ResourceRecord {
	for _, res := range d.Resources {
		if res.Address() == addr {
			return res
		}
	}
	return nil
}

// VersionInfo describes one historical version of a state document.
type VersionInfo struct {
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}
