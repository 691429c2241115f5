// Package resolver turns a node's component reference into a prepared
// component: a binary artifact on disk, its declared capability set, and
// its raw configuration schema document.
//
// Three reference kinds are supported: local filesystem paths, entries in
// the build cache directory, and versioned registry names. A resolver
// session caches prepared components by normalized reference for the
// lifetime of one build, and deduplicates concurrent identical
// resolutions through a single-flight group so that N nodes referencing
// the same component trigger exactly one preparation.
//
// Version selection: the highest available version satisfying the
// constraint always wins. When that version exists both in the cache and
// in the registry, the cached copy is used; the tie-break chooses the
// source of the winning version, never the version itself, which keeps
// repeated builds deterministic regardless of cache contents.
package resolver
