// Package graph builds the routing graph for a loaded flow and defines
// the canonical node traversal order every downstream stage keys on.
//
// Flows are not required to be acyclic (branching and looping routings
// are legal), so this package never performs cycle detection. What it
// does guarantee is a deterministic traversal: a breadth-first walk from
// the entry node following routes in declaration order, with nodes
// unreachable from the entry appended in lexicographic id order. The
// transcript and the pack serialization both embed nodes in exactly this
// order, so completion order of concurrent node processing can never leak
// into the output.
package graph
