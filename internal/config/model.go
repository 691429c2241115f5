package config

import "strings"

// Flow is the unified, format-agnostic representation of one flow
// document: an ordered set of nodes plus the routing between them.
type Flow struct {
	// ID is the flow's declared name.
	ID string
	// Entry is the id of the designated entry node.
	Entry string
	// Description is optional free text from the flow block.
	Description string
	// Nodes holds every node in document declaration order.
	Nodes []*Node
}

// Node is the format-agnostic representation of a `node` block. A node
// binds one component operation to a raw configuration object.
type Node struct {
	// ID is the stable, flow-unique node identifier.
	ID string
	// Component is the reference this node must resolve before the flow
	// can be packed.
	Component ComponentRef
	// Operation names the component operation the node invokes at run time.
	Operation string
	// Config is the raw, schema-opaque configuration mapping. It is never
	// mutated after loading; the validator produces a merged copy.
	Config map[string]any
	// RouteTo lists the ids of downstream nodes, in declaration order.
	RouteTo []string
}

// ComponentRef identifies a component either by a local filesystem path
// or by a registry name plus a semver constraint, optionally pinned to a
// content digest.
type ComponentRef struct {
	// Name is the registry name, or the path for local references.
	Name string
	// Version is a semver constraint ("^1.0", ">=2, <3", ...). Empty
	// means any version.
	Version string
	// Pin is an optional content digest ("sha256:<hex>") the resolved
	// artifact must match.
	Pin string
}

// IsLocal reports whether the reference addresses the filesystem rather
// than a registry name.
func (r ComponentRef) IsLocal() bool {
	return strings.HasPrefix(r.Name, "./") ||
		strings.HasPrefix(r.Name, "../") ||
		strings.HasPrefix(r.Name, "/")
}

// String renders the reference for error messages and cache keys before
// version resolution.
func (r ComponentRef) String() string {
	s := r.Name
	if r.Version != "" {
		s += "@" + r.Version
	}
	if r.Pin != "" {
		s += " (pin " + r.Pin + ")"
	}
	return s
}

// NodeByID returns the node with the given id, or nil.
func (f *Flow) NodeByID(id string) *Node {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
