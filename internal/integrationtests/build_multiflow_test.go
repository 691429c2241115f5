package integration_tests

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowpack/internal/testutil"
)

// TestBuild_DirectoryYieldsOnePackPerFlow points the build at a
// directory holding two flow documents and expects one named pack each.
func TestBuild_DirectoryYieldsOnePackPerFlow(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	alphaFlow := `
flow "alpha" {
	entry = "n1"
}

node "echo" "n1" {
	operation = "say"
}
`
	betaFlow := `
flow "beta" {
	entry = "n1"
}

node "echo" "n1" {
	operation = "say"
	config {
		message = "beta says hi"
	}
}
`
	files := testutil.Merge(
		testutil.Component("components/echo", "echo", "1.0.0", echoSchema),
		map[string]string{
			"flows/alpha.hcl": alphaFlow,
			"flows/beta.hcl":  betaFlow,
		},
	)

	// --- Act ---
	result := testutil.RunBuild(t, files, testutil.Options{OutputDir: true})

	// --- Assert ---
	require.NoError(t, result.Err)

	alphaManifest, _ := testutil.ReadBundle(t, filepath.Join(result.OutputPath, "alpha.fpack"))
	betaManifest, _ := testutil.ReadBundle(t, filepath.Join(result.OutputPath, "beta.fpack"))

	assert.Equal(t, "alpha", alphaManifest.Canonical.Flow.ID)
	assert.Equal(t, "beta", betaManifest.Canonical.Flow.ID)
	assert.NotEqual(t, alphaManifest.Digest, betaManifest.Digest,
		"different configs must produce different content digests")
}

// TestBuild_PackMetadataFile supplies a pack metadata document and
// expects it to override the derived defaults.
func TestBuild_PackMetadataFile(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	metaHCL := `
pack {
	pack_id = "com.example.greeting"
	version = "2.4.0"
	name    = "Greeting Pack"
	authors = ["platform team"]
	license = "Apache-2.0"
}
`
	files := testutil.Merge(
		testutil.Component("components/echo", "echo", "1.0.0", echoSchema),
		map[string]string{
			"flows/main.hcl": echoFlow,
			"pack.hcl":       metaHCL,
		},
	)

	// --- Act ---
	result := testutil.RunBuild(t, files, testutil.Options{MetaFile: "pack.hcl"})

	// --- Assert ---
	require.NoError(t, result.Err)

	manifest, _ := testutil.ReadBundle(t, result.OutputPath)
	assert.Equal(t, "com.example.greeting", manifest.Canonical.Pack.PackID)
	assert.Equal(t, "2.4.0", manifest.Canonical.Pack.Version)
	assert.Equal(t, "Greeting Pack", manifest.Canonical.Pack.Name)
	assert.Equal(t, []string{"platform team"}, manifest.Canonical.Pack.Authors)
	assert.Equal(t, "Apache-2.0", manifest.Canonical.Pack.License)
}

// TestBuild_SharedComponentSingleArtifact routes two nodes through the
// same component and expects the bundle to embed its artifact once.
func TestBuild_SharedComponentSingleArtifact(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	flowHCL := `
flow "fanout" {
	entry = "n1"
}

node "echo" "n1" {
	operation = "say"
	route_to  = ["n2"]
}

node "echo" "n2" {
	operation = "say"
	config {
		message = "second stop"
	}
}
`
	files := testutil.Merge(
		testutil.Component("components/echo", "echo", "1.0.0", echoSchema),
		map[string]string{"flows/main.hcl": flowHCL},
	)

	// --- Act ---
	result := testutil.RunBuild(t, files, testutil.Options{})

	// --- Assert ---
	require.NoError(t, result.Err)

	manifest, names := testutil.ReadBundle(t, result.OutputPath)
	assert.Len(t, manifest.Canonical.Artifacts, 1, "identical artifacts deduplicate by digest")
	assert.Len(t, names, 2, "bundle holds the manifest and exactly one artifact")
	require.Len(t, manifest.Canonical.Transcript, 2)
	assert.Equal(t, "n1", manifest.Canonical.Transcript[0].NodeID)
	assert.Equal(t, "n2", manifest.Canonical.Transcript[1].NodeID)
}
