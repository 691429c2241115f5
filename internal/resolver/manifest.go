package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

// ManifestFileName is the manifest every prepared component directory
// must contain, adjacent to its binary artifact.
const ManifestFileName = "component.json"

// Manifest is the on-disk description of a component: its identity, its
// declared capabilities, its configuration schema, and the name of its
// binary artifact.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Capabilities []string        `json:"capabilities,omitempty"`
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	Artifact     string          `json:"artifact"`
}

// PreparedComponent is the result of resolving one component reference.
// It is owned by the resolver's session cache and shared read-only by
// every node referencing the same component and version.
type PreparedComponent struct {
	Name    string
	Version *semver.Version
	// Dir is the prepared component directory.
	Dir string
	// ArtifactPath points at the binary artifact inside Dir.
	ArtifactPath string
	// ArtifactDigest is "sha256:<hex>" over the artifact bytes.
	ArtifactDigest string
	// Capabilities is the declared capability set; empty when the
	// manifest omits it.
	Capabilities []string
	// SchemaJSON is the raw configuration schema document; nil when the
	// component declares none.
	SchemaJSON json.RawMessage
	// Warnings holds non-fatal resolution diagnostics, such as a missing
	// capability declaration.
	Warnings []string
}

// ID returns the component identity string, name@version.
func (p *PreparedComponent) ID() string {
	return p.Name + "@" + p.Version.String()
}

// prepareDir reads the manifest and artifact from a component directory
// and produces a PreparedComponent. Errors are plain; callers classify
// them as not-found or unavailable depending on the reference kind.
func prepareDir(dir string) (*PreparedComponent, error) {
	manifestPath := filepath.Join(dir, ManifestFileName)
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", manifestPath, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", manifestPath, err)
	}
	if manifest.Name == "" || manifest.Version == "" || manifest.Artifact == "" {
		return nil, fmt.Errorf("manifest %s is missing name, version, or artifact", manifestPath)
	}

	version, err := semver.NewVersion(manifest.Version)
	if err != nil {
		return nil, fmt.Errorf("manifest %s has invalid version %q: %w", manifestPath, manifest.Version, err)
	}

	artifactPath := filepath.Join(dir, manifest.Artifact)
	digest, err := fileDigest(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to digest artifact: %w", err)
	}

	prepared := &PreparedComponent{
		Name:           manifest.Name,
		Version:        version,
		Dir:            dir,
		ArtifactPath:   artifactPath,
		ArtifactDigest: digest,
		Capabilities:   manifest.Capabilities,
		SchemaJSON:     manifest.ConfigSchema,
	}

	// Capability inspection is an enhancement, not a correctness
	// requirement of resolution, so its absence is a warning.
	if manifest.Capabilities == nil {
		prepared.Warnings = append(prepared.Warnings,
			fmt.Sprintf("component %s declares no capabilities; assuming an empty set", prepared.ID()))
	}

	return prepared, nil
}

// fileDigest computes the sha256 content digest of a file, reported in
// the "sha256:<hex>" form used throughout the pack.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
