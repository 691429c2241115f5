// Package app wires the build pipeline together: it loads flow
// documents, fans node resolution and validation out across workers,
// records the transcript in canonical traversal order, and drives the
// deterministic pack builder. Each App owns an isolated logger and
// per-build resolver and schema caches; nothing is shared across build
// invocations.
package app
