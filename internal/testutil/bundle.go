package testutil

import (
	"archive/zip"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/flowpack/internal/pack"
)

// ReadBundle opens a built .fpack file and returns its decoded manifest
// plus the bundle entry names in archive order.
func ReadBundle(t *testing.T, path string) (pack.Manifest, []string) {
	t.Helper()

	zr, err := zip.OpenReader(path)
	require.NoError(t, err, "bundle should be a readable zip archive")
	defer zr.Close()

	var names []string
	var manifest pack.Manifest
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.Name != "manifest.json" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		raw, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &manifest))
	}
	require.NotEmpty(t, manifest.Digest, "bundle must contain manifest.json")
	return manifest, names
}
