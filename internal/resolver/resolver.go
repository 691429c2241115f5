package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/singleflight"

	"github.com/vk/flowpack/internal/config"
	"github.com/vk/flowpack/internal/ctxlog"
)

// Options configures a resolver session.
type Options struct {
	// ComponentsDir optionally maps bare component names onto local
	// directories (<ComponentsDir>/<name>) before the cache and registry
	// are consulted.
	ComponentsDir string
	// CacheDir is the build cache for registry components, laid out as
	// <CacheDir>/<name>/<version>/.
	CacheDir string
	// Remote is the registry access point; nil means offline.
	Remote Remote
}

// Resolver resolves component references for the lifetime of one build.
// It is safe for concurrent use; identical in-flight resolutions are
// collapsed into a single preparation.
type Resolver struct {
	opts Options

	mu sync.Mutex
	// byRef caches prepared components by normalized reference string.
	byRef map[string]*PreparedComponent
	// byIdentity deduplicates by resolved name@version, so two different
	// constraints landing on the same version share one handle.
	byIdentity map[string]*PreparedComponent

	group singleflight.Group
}

// New creates an empty resolver session. Sessions are never shared
// across builds; every build starts cold.
func New(opts Options) *Resolver {
	return &Resolver{
		opts:       opts,
		byRef:      make(map[string]*PreparedComponent),
		byIdentity: make(map[string]*PreparedComponent),
	}
}

// Resolve produces the prepared component for one node's reference.
// Failures are node-scoped: the returned error always names the node and
// the reference, even when the underlying preparation was shared with
// other nodes.
func (r *Resolver) Resolve(ctx context.Context, nodeID string, ref config.ComponentRef) (*PreparedComponent, error) {
	key, err := normalizeRef(ref)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", nodeID, err)
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		return r.resolveRef(ctx, key, ref)
	})
	if err != nil {
		return nil, withNode(nodeID, err)
	}

	prepared := v.(*PreparedComponent)
	ctxlog.FromContext(ctx).Debug("Component reference resolved.",
		"node", nodeID, "reference", ref.String(), "component", prepared.ID(), "shared", shared)
	return prepared, nil
}

// normalizeRef builds the session cache key: the canonicalized path for
// local references, or the name plus constraint for registry references.
// The pin participates so a pinned and an unpinned reference never alias.
func normalizeRef(ref config.ComponentRef) (string, error) {
	name := ref.Name
	if ref.IsLocal() {
		abs, err := filepath.Abs(ref.Name)
		if err != nil {
			return "", fmt.Errorf("cannot canonicalize component path %q: %w", ref.Name, err)
		}
		name = filepath.Clean(abs)
	}
	return name + "|" + ref.Version + "|" + ref.Pin, nil
}

// resolveRef runs inside the single-flight group, so only one goroutine
// executes it per key at a time.
func (r *Resolver) resolveRef(ctx context.Context, key string, ref config.ComponentRef) (*PreparedComponent, error) {
	r.mu.Lock()
	if prepared, ok := r.byRef[key]; ok {
		r.mu.Unlock()
		return prepared, nil
	}
	r.mu.Unlock()

	constraint, err := parseConstraint(ref.Version)
	if err != nil {
		return nil, err
	}

	var prepared *PreparedComponent
	if dir, local := r.localDir(ref); local {
		prepared, err = r.resolveLocal(ref, dir, constraint)
	} else {
		prepared, err = r.resolveRegistry(ctx, ref, constraint)
	}
	if err != nil {
		return nil, err
	}

	if ref.Pin != "" && prepared.ArtifactDigest != ref.Pin {
		return nil, &UnavailableError{Ref: ref,
			Err: fmt.Errorf("artifact digest %s does not match pin %s", prepared.ArtifactDigest, ref.Pin)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Share a single handle per resolved identity across all references.
	if existing, ok := r.byIdentity[prepared.ID()]; ok {
		prepared = existing
	} else {
		r.byIdentity[prepared.ID()] = prepared
	}
	r.byRef[key] = prepared
	return prepared, nil
}

// localDir reports whether the reference addresses the filesystem, and
// the directory it addresses. Bare names map through ComponentsDir when
// that directory actually holds the component.
func (r *Resolver) localDir(ref config.ComponentRef) (string, bool) {
	if ref.IsLocal() {
		return ref.Name, true
	}
	if r.opts.ComponentsDir != "" {
		candidate := filepath.Join(r.opts.ComponentsDir, ref.Name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// resolveLocal prepares a component straight from a directory on disk.
func (r *Resolver) resolveLocal(ref config.ComponentRef, dir string, constraint *semver.Constraints) (*PreparedComponent, error) {
	prepared, err := prepareDir(dir)
	if err != nil {
		return nil, &NotFoundError{Ref: ref, Err: err}
	}
	if !constraint.Check(prepared.Version) {
		return nil, &VersionConflictError{Ref: ref, Available: []string{prepared.Version.String()}}
	}
	return prepared, nil
}

// resolveRegistry selects and prepares a version from the cache and the
// registry. A registry listing failure degrades to cache-only resolution
// with a warning; it only becomes fatal when the cache cannot satisfy the
// reference either.
func (r *Resolver) resolveRegistry(ctx context.Context, ref config.ComponentRef, constraint *semver.Constraints) (*PreparedComponent, error) {
	logger := ctxlog.FromContext(ctx)

	cached, err := r.cachedVersions(ref.Name)
	if err != nil {
		return nil, &UnavailableError{Ref: ref, Err: err}
	}

	var remote []*semver.Version
	var remoteErr error
	if r.opts.Remote != nil {
		raw, err := r.opts.Remote.Versions(ctx, ref.Name)
		if err != nil {
			remoteErr = err
			logger.Warn("Registry listing failed; falling back to cached versions only.",
				"component", ref.Name, "error", err)
		}
		for _, s := range raw {
			v, err := semver.NewVersion(s)
			if err != nil {
				logger.Warn("Registry listed an unparseable version; skipping.",
					"component", ref.Name, "version", s)
				continue
			}
			remote = append(remote, v)
		}
	}

	chosen, fromCache, err := selectVersion(constraint, cached, remote)
	switch err {
	case nil:
	case errNoMatch:
		return nil, &VersionConflictError{Ref: ref, Available: versionStrings(append(cached, remote...))}
	case errNoVersions:
		cause := err
		if remoteErr != nil {
			cause = fmt.Errorf("%w (registry error: %v)", err, remoteErr)
		} else if r.opts.Remote == nil {
			cause = fmt.Errorf("%w (no registry configured)", err)
		}
		return nil, &UnavailableError{Ref: ref, Err: cause}
	default:
		return nil, &UnavailableError{Ref: ref, Err: err}
	}

	dir := filepath.Join(r.opts.CacheDir, ref.Name, chosen.String())
	if !fromCache {
		if err := r.opts.Remote.Download(ctx, ref.Name, chosen.String(), dir); err != nil {
			return nil, &UnavailableError{Ref: ref, Err: err}
		}
		logger.Debug("Component downloaded into build cache.",
			"component", ref.Name, "version", chosen.String(), "dir", dir)
	}

	prepared, err := prepareDir(dir)
	if err != nil {
		return nil, &UnavailableError{Ref: ref, Err: err}
	}
	if prepared.Name != ref.Name || !prepared.Version.Equal(chosen) {
		return nil, &UnavailableError{Ref: ref,
			Err: fmt.Errorf("prepared component %s does not match requested %s@%s",
				prepared.ID(), ref.Name, chosen.String())}
	}
	return prepared, nil
}

// cachedVersions lists the versions present in the build cache for a
// component name. A missing cache directory is simply an empty list.
func (r *Resolver) cachedVersions(name string) ([]*semver.Version, error) {
	if r.opts.CacheDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(r.opts.CacheDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list cache for %q: %w", name, err)
	}

	var versions []*semver.Version
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := semver.NewVersion(entry.Name())
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// withNode re-attaches the failing node's identity to an error produced
// inside the shared single-flight call. The error value is copied so
// concurrent nodes sharing one failed resolution each report their own id.
func withNode(nodeID string, err error) error {
	switch e := err.(type) {
	case *NotFoundError:
		c := *e
		c.NodeID = nodeID
		return &c
	case *UnavailableError:
		c := *e
		c.NodeID = nodeID
		return &c
	case *VersionConflictError:
		c := *e
		c.NodeID = nodeID
		return &c
	}
	return fmt.Errorf("node %q: %w", nodeID, err)
}
