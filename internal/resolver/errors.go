package resolver

import (
	"fmt"

	"github.com/vk/flowpack/internal/config"
)

// NotFoundError reports a local component reference whose directory,
// manifest, or artifact is missing.
type NotFoundError struct {
	NodeID string
	Ref    config.ComponentRef
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %q: component not found for reference %s: %v", e.NodeID, e.Ref, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// UnavailableError reports a cached or registry reference that no source
// could prepare: offline and not cached, a failed download, or an
// artifact that does not match its content pin.
type UnavailableError struct {
	NodeID string
	Ref    config.ComponentRef
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("node %q: component unavailable for reference %s: %v", e.NodeID, e.Ref, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// VersionConflictError reports that no available version satisfies the
// reference's constraint.
type VersionConflictError struct {
	NodeID    string
	Ref       config.ComponentRef
	Available []string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("node %q: no version of %q satisfies constraint %q (available: %v)",
		e.NodeID, e.Ref.Name, e.Ref.Version, e.Available)
}
