package pack

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/flowpack/internal/config"
	"github.com/vk/flowpack/internal/schema"
)

// LoadMeta reads pack metadata from an optional HCL file, deriving
// defaults from the flow for every omitted field.
func LoadMeta(path string, flow *config.Flow) (Meta, error) {
	meta := Meta{
		PackID:  "dev.local." + flow.ID,
		Version: "0.1.0",
		Name:    flow.ID,
	}
	if path == "" {
		return meta, nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Meta{}, fmt.Errorf("failed to parse pack metadata %s: %w", path, diags)
	}
	var raw schema.PackMetaConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return Meta{}, fmt.Errorf("invalid pack metadata %s: %w", path, diags)
	}
	if raw.Pack == nil {
		return meta, nil
	}

	if raw.Pack.PackID != "" {
		meta.PackID = raw.Pack.PackID
	}
	if raw.Pack.Version != "" {
		meta.Version = raw.Pack.Version
	}
	if raw.Pack.Name != "" {
		meta.Name = raw.Pack.Name
	}
	meta.Description = raw.Pack.Description
	meta.Authors = raw.Pack.Authors
	meta.License = raw.Pack.License

	if _, err := semver.NewVersion(meta.Version); err != nil {
		return Meta{}, fmt.Errorf("invalid pack version %q in %s: %w", meta.Version, path, err)
	}
	return meta, nil
}
