package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"resty.dev/v3"
)

// Remote is the external artifact preparation service the resolver calls
// on a cache miss for registry references. Implementations must be safe
// for concurrent use; the resolver's single-flight group already
// deduplicates identical calls within one build.
type Remote interface {
	// Versions lists the versions the registry can serve for a component.
	Versions(ctx context.Context, name string) ([]string, error)
	// Download fetches the manifest and artifact for one exact version
	// into destDir.
	Download(ctx context.Context, name, version, destDir string) error
}

// RegistryClient is the HTTP implementation of Remote. The registry
// surface is read-only: an index document per component plus the
// per-version manifest and artifact files.
type RegistryClient struct {
	client *resty.Client
}

// NewRegistryClient creates a client for the registry at baseURL.
func NewRegistryClient(baseURL string) *RegistryClient {
	return &RegistryClient{
		client: resty.New().SetBaseURL(baseURL),
	}
}

// Close releases the underlying HTTP client resources.
func (c *RegistryClient) Close() error {
	return c.client.Close()
}

// versionIndex is the registry's per-component index document.
type versionIndex struct {
	Versions []string `json:"versions"`
}

// Versions implements Remote.
func (c *RegistryClient) Versions(ctx context.Context, name string) ([]string, error) {
	var index versionIndex
	res, err := c.client.R().
		SetContext(ctx).
		SetResult(&index).
		Get(fmt.Sprintf("/components/%s/index.json", name))
	if err != nil {
		return nil, fmt.Errorf("registry index request for %q failed: %w", name, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("registry returned %s for component %q", res.Status(), name)
	}
	return index.Versions, nil
}

// Download implements Remote. The manifest is fetched first so the
// artifact file name is known before the second request.
func (c *RegistryClient) Download(ctx context.Context, name, version, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	manifestRaw, err := c.fetch(ctx, fmt.Sprintf("/components/%s/%s/%s", name, version, ManifestFileName))
	if err != nil {
		return err
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return fmt.Errorf("registry served an invalid manifest for %s@%s: %w", name, version, err)
	}
	if manifest.Artifact == "" {
		return fmt.Errorf("registry manifest for %s@%s names no artifact", name, version)
	}

	artifactRaw, err := c.fetch(ctx, fmt.Sprintf("/components/%s/%s/%s", name, version, manifest.Artifact))
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(destDir, ManifestFileName), manifestRaw, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, manifest.Artifact), artifactRaw, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// fetch performs one GET and returns the body, treating any HTTP error
// status as a failure.
func (c *RegistryClient) fetch(ctx context.Context, path string) ([]byte, error) {
	res, err := c.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, fmt.Errorf("registry request %s failed: %w", path, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("registry returned %s for %s", res.Status(), path)
	}
	return res.Bytes(), nil
}
