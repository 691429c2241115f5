package pack

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowpack/internal/config"
	"github.com/vk/flowpack/internal/resolver"
	"github.com/vk/flowpack/internal/transcript"
	"github.com/vk/flowpack/internal/validate"
)

// fixtureComponent creates a real artifact on disk and the prepared
// handle pointing at it.
func fixtureComponent(t *testing.T, name, version, content string) *resolver.PreparedComponent {
	t.Helper()
	dir := t.TempDir()
	artifactPath := filepath.Join(dir, "component.wasm")
	require.NoError(t, os.WriteFile(artifactPath, []byte(content), 0o644))

	digest, err := fileDigestForTest(artifactPath)
	require.NoError(t, err)
	return &resolver.PreparedComponent{
		Name:           name,
		Version:        semver.MustParse(version),
		Dir:            dir,
		ArtifactPath:   artifactPath,
		ArtifactDigest: digest,
	}
}

// fileDigestForTest mirrors the resolver's artifact digest computation.
func fileDigestForTest(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Digest(raw), nil
}

// fixtureBuilder wires a two-node flow where both nodes share one
// component.
func fixtureBuilder(t *testing.T, echo *resolver.PreparedComponent) *Builder {
	t.Helper()
	flow := &config.Flow{
		ID:    "greeting",
		Entry: "n1",
		Nodes: []*config.Node{
			// Declared out of id order on purpose; the canonical payload
			// must not care.
			{ID: "n2", Component: config.ComponentRef{Name: "echo", Version: "^1.0"}, Operation: "say"},
			{ID: "n1", Component: config.ComponentRef{Name: "echo", Version: "^1.0"}, Operation: "say", RouteTo: []string{"n2"}},
		},
	}

	recorder := transcript.NewRecorder([]string{"n1", "n2"})
	for _, id := range []string{"n2", "n1"} {
		require.NoError(t, recorder.Record(transcript.Entry{
			NodeID:         id,
			Component:      echo.ID(),
			ArtifactDigest: echo.ArtifactDigest,
			SchemaID:       echo.ID(),
			Config: validate.ResolvedConfig{
				"message": {Source: validate.SourceDefault, Value: "hello"},
			},
		}))
	}

	meta, err := LoadMeta("", flow)
	require.NoError(t, err)
	return NewBuilder(meta).
		WithFlow(flow).
		WithComponent("n1", echo).
		WithComponent("n2", echo).
		WithTranscript(recorder)
}

func TestBuild_DigestStableAcrossRuns(t *testing.T) {
	echo := fixtureComponent(t, "echo", "1.0.0", "echo binary")

	first, err := fixtureBuilder(t, echo).Build(context.Background(), filepath.Join(t.TempDir(), "a.fpack"))
	require.NoError(t, err)
	second, err := fixtureBuilder(t, echo).Build(context.Background(), filepath.Join(t.TempDir(), "b.fpack"))
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	require.NoError(t, VerifyDeterminism(first, second))

	// The canonical subtrees must match byte for byte, not just by hash.
	firstCanonical := readCanonical(t, first.Path)
	secondCanonical := readCanonical(t, second.Path)
	assert.Empty(t, cmp.Diff(firstCanonical, secondCanonical))
}

// readCanonical extracts and re-serializes the canonical payload from a
// bundle's manifest.
func readCanonical(t *testing.T, bundlePath string) []byte {
	t.Helper()
	manifest := readManifest(t, bundlePath)
	raw, err := MarshalCanonical(manifest.Canonical)
	require.NoError(t, err)
	return raw
}

func readManifest(t *testing.T, bundlePath string) Manifest {
	t.Helper()
	zr, err := zip.OpenReader(bundlePath)
	require.NoError(t, err)
	defer zr.Close()

	for _, entry := range zr.File {
		if entry.Name != "manifest.json" {
			continue
		}
		rc, err := entry.Open()
		require.NoError(t, err)
		defer rc.Close()

		var manifest Manifest
		require.NoError(t, json.NewDecoder(rc).Decode(&manifest))
		return manifest
	}
	t.Fatal("bundle has no manifest.json")
	return Manifest{}
}

func TestBuild_ManifestShape(t *testing.T) {
	echo := fixtureComponent(t, "echo", "1.0.0", "echo binary")
	result, err := fixtureBuilder(t, echo).Build(context.Background(), filepath.Join(t.TempDir(), "out.fpack"))
	require.NoError(t, err)

	manifest := readManifest(t, result.Path)
	assert.Equal(t, result.Digest, manifest.Digest)
	assert.Equal(t, "dev.local.greeting", manifest.Canonical.Pack.PackID)

	// Nodes are sorted by id regardless of declaration order.
	require.Len(t, manifest.Canonical.Flow.Nodes, 2)
	assert.Equal(t, "n1", manifest.Canonical.Flow.Nodes[0].ID)
	assert.Equal(t, "n2", manifest.Canonical.Flow.Nodes[1].ID)
	assert.Equal(t, "echo@1.0.0", manifest.Canonical.Flow.Nodes[0].Component.Resolved)

	// Two nodes, one shared component: a single deduplicated artifact.
	require.Len(t, manifest.Canonical.Artifacts, 1)
	assert.Equal(t, echo.ArtifactDigest, manifest.Canonical.Artifacts[0].Digest)

	// Transcript embedded in traversal order.
	require.Len(t, manifest.Canonical.Transcript, 2)
	assert.Equal(t, "n1", manifest.Canonical.Transcript[0].NodeID)

	// Provenance exists but never participates in the digest.
	assert.NotEmpty(t, manifest.Provenance.BuiltAtUTC)
	assert.Equal(t, Digest(readCanonical(t, result.Path)), manifest.Digest)
}

func TestBuild_BundleContainsArtifacts(t *testing.T) {
	echo := fixtureComponent(t, "echo", "1.0.0", "echo binary")
	result, err := fixtureBuilder(t, echo).Build(context.Background(), filepath.Join(t.TempDir(), "out.fpack"))
	require.NoError(t, err)

	zr, err := zip.OpenReader(result.Path)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 2)
	assert.Equal(t, "manifest.json", zr.File[0].Name)
	assert.Equal(t, artifactEntryName(echo.ArtifactDigest), zr.File[1].Name)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	defer rc.Close()
	raw := make([]byte, 32)
	n, _ := rc.Read(raw)
	assert.Equal(t, "echo binary", string(raw[:n]))
}

func TestBuild_SharedArtifactBytesAcrossComponents(t *testing.T) {
	// Two distinct components whose artifacts are byte-identical share one
	// content digest; the deduplicated artifact entry must be the same on
	// every run, not whichever component a map walk happens to yield first.
	newBuilder := func(t *testing.T) *Builder {
		alpha := fixtureComponent(t, "alpha", "1.0.0", "shared bytes")
		beta := fixtureComponent(t, "beta", "2.0.0", "shared bytes")
		require.Equal(t, alpha.ArtifactDigest, beta.ArtifactDigest)

		flow := &config.Flow{
			ID:    "twins",
			Entry: "n1",
			Nodes: []*config.Node{
				{ID: "n1", Component: config.ComponentRef{Name: "alpha"}, Operation: "run", RouteTo: []string{"n2"}},
				{ID: "n2", Component: config.ComponentRef{Name: "beta"}, Operation: "run"},
			},
		}
		recorder := transcript.NewRecorder([]string{"n1", "n2"})
		require.NoError(t, recorder.Record(transcript.Entry{NodeID: "n1", Component: alpha.ID(), ArtifactDigest: alpha.ArtifactDigest}))
		require.NoError(t, recorder.Record(transcript.Entry{NodeID: "n2", Component: beta.ID(), ArtifactDigest: beta.ArtifactDigest}))

		meta, err := LoadMeta("", flow)
		require.NoError(t, err)
		return NewBuilder(meta).
			WithFlow(flow).
			WithComponent("n1", alpha).
			WithComponent("n2", beta).
			WithTranscript(recorder)
	}

	digests := make(map[string]bool)
	for i := 0; i < 40; i++ {
		result, err := newBuilder(t).Build(context.Background(), filepath.Join(t.TempDir(), "out.fpack"))
		require.NoError(t, err)
		digests[result.Digest] = true

		manifest := readManifest(t, result.Path)
		require.Len(t, manifest.Canonical.Artifacts, 1)
		assert.Equal(t, "alpha", manifest.Canonical.Artifacts[0].Name,
			"the smallest name@version owns the shared artifact entry")
		assert.Equal(t, "1.0.0", manifest.Canonical.Artifacts[0].Version)
	}
	assert.Len(t, digests, 1, "identical inputs must always produce one digest")
}

func TestBuild_IncompleteTranscriptRejected(t *testing.T) {
	echo := fixtureComponent(t, "echo", "1.0.0", "echo binary")
	flow := &config.Flow{ID: "x", Entry: "n1", Nodes: []*config.Node{
		{ID: "n1", Component: config.ComponentRef{Name: "echo"}},
	}}
	recorder := transcript.NewRecorder([]string{"n1"})

	meta, err := LoadMeta("", flow)
	require.NoError(t, err)
	_, err = NewBuilder(meta).
		WithFlow(flow).
		WithComponent("n1", echo).
		WithTranscript(recorder).
		Build(context.Background(), filepath.Join(t.TempDir(), "out.fpack"))
	assert.ErrorContains(t, err, "transcript is incomplete")
}

func TestVerifyDeterminism(t *testing.T) {
	require.NoError(t, VerifyDeterminism(&Result{Digest: "sha256:a"}, &Result{Digest: "sha256:a"}))

	err := VerifyDeterminism(&Result{Digest: "sha256:a"}, &Result{Digest: "sha256:b"})
	var nonDet *NonDeterministicBuildError
	require.ErrorAs(t, err, &nonDet)
	assert.Equal(t, "sha256:a", nonDet.First)
}

func TestLoadMeta(t *testing.T) {
	flow := &config.Flow{ID: "greeting"}

	t.Run("defaults", func(t *testing.T) {
		meta, err := LoadMeta("", flow)
		require.NoError(t, err)
		assert.Equal(t, "dev.local.greeting", meta.PackID)
		assert.Equal(t, "0.1.0", meta.Version)
		assert.Equal(t, "greeting", meta.Name)
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meta.hcl")
		require.NoError(t, os.WriteFile(path, []byte(`
pack {
  pack_id = "org.example.greeting"
  version = "2.1.0"
  authors = ["dev@example.org"]
  license = "MIT"
}
`), 0o644))
		meta, err := LoadMeta(path, flow)
		require.NoError(t, err)
		assert.Equal(t, "org.example.greeting", meta.PackID)
		assert.Equal(t, "2.1.0", meta.Version)
		assert.Equal(t, []string{"dev@example.org"}, meta.Authors)
		// Name still defaults from the flow.
		assert.Equal(t, "greeting", meta.Name)
	})

	t.Run("invalid version", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meta.hcl")
		require.NoError(t, os.WriteFile(path, []byte(`
pack {
  version = "not-semver"
}
`), 0o644))
		_, err := LoadMeta(path, flow)
		assert.ErrorContains(t, err, "invalid pack version")
	})
}
