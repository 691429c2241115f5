package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowpack/internal/config"
)

// writeComponent lays out a component directory with a manifest and a
// small artifact, returning the directory.
func writeComponent(t *testing.T, dir, name, version string, manifestExtra map[string]any) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest := map[string]any{
		"name":     name,
		"version":  version,
		"artifact": "component.wasm",
	}
	for k, v := range manifestExtra {
		manifest[k] = v
	}
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "component.wasm"), []byte("binary of "+name+"@"+version), 0o644))
	return dir
}

// fakeRemote is a counting in-memory Remote so tests can verify how many
// underlying preparations a resolver session performs.
type fakeRemote struct {
	mu            sync.Mutex
	versions      map[string][]string
	versionCalls  int
	downloadCalls int
	failDownload  bool
}

func (f *fakeRemote) Versions(_ context.Context, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionCalls++
	v, ok := f.versions[name]
	if !ok {
		return nil, fmt.Errorf("unknown component %q", name)
	}
	return v, nil
}

func (f *fakeRemote) Download(_ context.Context, name, version, destDir string) error {
	f.mu.Lock()
	f.downloadCalls++
	fail := f.failDownload
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("download of %s@%s failed", name, version)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	manifest, _ := json.Marshal(map[string]any{
		"name": name, "version": version, "artifact": "component.wasm",
		"capabilities": []string{"net"},
	})
	if err := os.WriteFile(filepath.Join(destDir, ManifestFileName), manifest, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(destDir, "component.wasm"), []byte("binary of "+name+"@"+version), 0o644)
}

func TestResolve_LocalPath(t *testing.T) {
	dir := writeComponent(t, filepath.Join(t.TempDir(), "echo"), "echo", "1.0.0", map[string]any{
		"capabilities":  []string{"stdout"},
		"config_schema": map[string]any{"type": "object"},
	})

	r := New(Options{})
	prepared, err := r.Resolve(context.Background(), "n1", config.ComponentRef{Name: "./" + relTo(t, dir)})
	require.NoError(t, err)

	assert.Equal(t, "echo@1.0.0", prepared.ID())
	assert.Equal(t, []string{"stdout"}, prepared.Capabilities)
	assert.NotNil(t, prepared.SchemaJSON)
	assert.Contains(t, prepared.ArtifactDigest, "sha256:")
	assert.Empty(t, prepared.Warnings)
}

// relTo rewrites an absolute path as relative to the working directory so
// the "./" local reference form can be exercised.
func relTo(t *testing.T, abs string) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(wd, abs)
	require.NoError(t, err)
	return rel
}

func TestResolve_LocalPathMissing(t *testing.T) {
	r := New(Options{})
	_, err := r.Resolve(context.Background(), "n2", config.ComponentRef{Name: "./does/not/exist"})
	require.Error(t, err)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "n2", notFound.NodeID)
	assert.Contains(t, err.Error(), "n2")
	assert.Contains(t, err.Error(), "./does/not/exist")
}

func TestResolve_LocalVersionConflict(t *testing.T) {
	dir := writeComponent(t, filepath.Join(t.TempDir(), "echo"), "echo", "1.0.0", nil)

	r := New(Options{})
	_, err := r.Resolve(context.Background(), "n1", config.ComponentRef{Name: "./" + relTo(t, dir), Version: "^2.0"})
	require.Error(t, err)

	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "n1", conflict.NodeID)
	assert.Equal(t, []string{"1.0.0"}, conflict.Available)
}

func TestResolve_PinMismatch(t *testing.T) {
	dir := writeComponent(t, filepath.Join(t.TempDir(), "echo"), "echo", "1.0.0", nil)

	r := New(Options{})
	_, err := r.Resolve(context.Background(), "n1", config.ComponentRef{
		Name: "./" + relTo(t, dir),
		Pin:  "sha256:0000000000000000000000000000000000000000000000000000000000000000",
	})
	require.Error(t, err)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, err.Error(), "does not match pin")
}

func TestResolve_MissingCapabilitiesIsWarning(t *testing.T) {
	dir := writeComponent(t, filepath.Join(t.TempDir(), "echo"), "echo", "1.0.0", nil)

	r := New(Options{})
	prepared, err := r.Resolve(context.Background(), "n1", config.ComponentRef{Name: "./" + relTo(t, dir)})
	require.NoError(t, err)
	require.Len(t, prepared.Warnings, 1)
	assert.Contains(t, prepared.Warnings[0], "declares no capabilities")
}

func TestResolve_RegistrySelectsHighestSatisfying(t *testing.T) {
	remote := &fakeRemote{versions: map[string][]string{
		"echo": {"1.0.0", "1.2.0", "2.0.0"},
	}}
	r := New(Options{CacheDir: t.TempDir(), Remote: remote})

	prepared, err := r.Resolve(context.Background(), "n1", config.ComponentRef{Name: "echo", Version: "^1.0"})
	require.NoError(t, err)
	assert.Equal(t, "echo@1.2.0", prepared.ID())
	assert.Equal(t, 1, remote.downloadCalls)
}

func TestResolve_TiePrefersCachedCopy(t *testing.T) {
	cacheDir := t.TempDir()
	writeComponent(t, filepath.Join(cacheDir, "echo", "1.2.0"), "echo", "1.2.0", nil)

	remote := &fakeRemote{versions: map[string][]string{
		"echo": {"1.0.0", "1.2.0"},
	}}
	r := New(Options{CacheDir: cacheDir, Remote: remote})

	prepared, err := r.Resolve(context.Background(), "n1", config.ComponentRef{Name: "echo", Version: "^1.0"})
	require.NoError(t, err)
	assert.Equal(t, "echo@1.2.0", prepared.ID())
	// The winning version was already cached, so nothing is fetched.
	assert.Equal(t, 0, remote.downloadCalls)
}

func TestResolve_CachedOnlyWhenOffline(t *testing.T) {
	cacheDir := t.TempDir()
	writeComponent(t, filepath.Join(cacheDir, "echo", "1.1.0"), "echo", "1.1.0", nil)

	r := New(Options{CacheDir: cacheDir})
	prepared, err := r.Resolve(context.Background(), "n1", config.ComponentRef{Name: "echo", Version: "^1.0"})
	require.NoError(t, err)
	assert.Equal(t, "echo@1.1.0", prepared.ID())
}

func TestResolve_UnavailableWhenNoSource(t *testing.T) {
	r := New(Options{CacheDir: t.TempDir()})
	_, err := r.Resolve(context.Background(), "n3", config.ComponentRef{Name: "ghost"})
	require.Error(t, err)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "n3", unavailable.NodeID)
}

func TestResolve_RegistryVersionConflict(t *testing.T) {
	remote := &fakeRemote{versions: map[string][]string{
		"echo": {"1.0.0", "1.2.0"},
	}}
	r := New(Options{CacheDir: t.TempDir(), Remote: remote})

	_, err := r.Resolve(context.Background(), "n1", config.ComponentRef{Name: "echo", Version: "^3.0"})
	require.Error(t, err)

	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"1.2.0", "1.0.0"}, conflict.Available)
}

func TestResolve_SessionIdempotence(t *testing.T) {
	remote := &fakeRemote{versions: map[string][]string{
		"echo": {"1.0.0"},
	}}
	r := New(Options{CacheDir: t.TempDir(), Remote: remote})

	ref := config.ComponentRef{Name: "echo", Version: "^1.0"}
	first, err := r.Resolve(context.Background(), "n1", ref)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "n2", ref)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, remote.versionCalls)
	assert.Equal(t, 1, remote.downloadCalls)
}

func TestResolve_IdentitySharedAcrossConstraints(t *testing.T) {
	remote := &fakeRemote{versions: map[string][]string{
		"echo": {"1.2.0"},
	}}
	r := New(Options{CacheDir: t.TempDir(), Remote: remote})

	first, err := r.Resolve(context.Background(), "n1", config.ComponentRef{Name: "echo", Version: "^1.0"})
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "n2", config.ComponentRef{Name: "echo", Version: ">=1.1"})
	require.NoError(t, err)

	// Different constraints, same resolved identity: one shared handle,
	// one download.
	assert.Same(t, first, second)
	assert.Equal(t, 1, remote.downloadCalls)
}

func TestResolve_ConcurrentSingleFlight(t *testing.T) {
	remote := &fakeRemote{versions: map[string][]string{
		"echo": {"1.0.0"},
	}}
	r := New(Options{CacheDir: t.TempDir(), Remote: remote})

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*PreparedComponent, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(),
				fmt.Sprintf("n%d", i), config.ComponentRef{Name: "echo", Version: "^1.0"})
		}()
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, remote.downloadCalls)
}

func TestResolve_SharedFailureReportsEachNode(t *testing.T) {
	remote := &fakeRemote{versions: map[string][]string{
		"echo": {"1.0.0"},
	}, failDownload: true}
	r := New(Options{CacheDir: t.TempDir(), Remote: remote})

	_, err1 := r.Resolve(context.Background(), "a", config.ComponentRef{Name: "echo"})
	_, err2 := r.Resolve(context.Background(), "b", config.ComponentRef{Name: "echo"})
	require.Error(t, err1)
	require.Error(t, err2)
	assert.Contains(t, err1.Error(), `node "a"`)
	assert.Contains(t, err2.Error(), `node "b"`)
}
