// Package transcript captures, per node, the resolved component
// identity, schema identifier, merged configuration, and validation
// diagnostics, as an ordered record keyed by node id.
//
// The order is fixed up front to the flow's canonical traversal order,
// so concurrent node processing can finish in any order without that
// order ever becoming observable downstream.
package transcript

import (
	"fmt"
	"sync"

	"github.com/vk/flowpack/internal/validate"
)

// Entry is the record of one node's resolution and validation outcome.
type Entry struct {
	NodeID string `json:"node_id"`
	// Component is the resolved identity, name@version.
	Component string `json:"component"`
	// ArtifactDigest ties the entry to the exact binary that resolution
	// produced.
	ArtifactDigest string `json:"artifact_digest"`
	// SchemaID identifies the schema the config was validated against.
	SchemaID string `json:"schema_id"`
	// Config is the merged configuration with per-field provenance.
	Config validate.ResolvedConfig `json:"config"`
	// Diagnostics holds non-fatal warnings surfaced during resolution.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// DuplicateEntryError reports a second Record call for a node id.
// Each node is recorded exactly once.
type DuplicateEntryError struct {
	NodeID string
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("transcript entry for node %q already recorded", e.NodeID)
}

// Recorder is the write-once-per-node ordered transcript.
type Recorder struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Entry
}

// NewRecorder creates a recorder whose output order is the given
// canonical traversal order.
func NewRecorder(order []string) *Recorder {
	fixed := make([]string, len(order))
	copy(fixed, order)
	return &Recorder{
		order:   fixed,
		entries: make(map[string]*Entry, len(order)),
	}
}

// Record appends one node's entry. The entry's position in the
// transcript is determined by the traversal order, not by when Record is
// called.
func (r *Recorder) Record(entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.NodeID]; exists {
		return &DuplicateEntryError{NodeID: entry.NodeID}
	}
	known := false
	for _, id := range r.order {
		if id == entry.NodeID {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("transcript does not cover node %q", entry.NodeID)
	}

	r.entries[entry.NodeID] = &entry
	return nil
}

// Complete reports whether every node in the traversal has been recorded.
func (r *Recorder) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries) == len(r.order)
}

// Entries returns the recorded entries in canonical traversal order,
// skipping nodes that have not been recorded.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok {
			entries = append(entries, *entry)
		}
	}
	return entries
}
