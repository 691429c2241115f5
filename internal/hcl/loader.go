package hcl

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/flowpack/internal/config"
	"github.com/vk/flowpack/internal/ctxlog"
	"github.com/vk/flowpack/internal/fsutil"
	"github.com/vk/flowpack/internal/schema"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL flow loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads flow documents from the given path. A directory is scanned
// recursively for .hcl files, each of which must contain exactly one flow.
// Files are processed in sorted path order so repeated loads produce the
// same flow order.
func (l *Loader) Load(ctx context.Context, path string) ([]*config.Flow, error) {
	logger := ctxlog.FromContext(ctx)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat flow path %s: %w", path, err)
	}

	filePaths := []string{path}
	if info.IsDir() {
		filePaths, err = fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("failed to walk flow directory %s: %w", path, err)
		}
	}
	if len(filePaths) == 0 {
		return nil, &MalformedFlowError{Path: path, Detail: "no .hcl flow files found"}
	}
	logger.Debug("Found flow files to load.", "files", filePaths)

	parser := hclparse.NewParser()
	flows := make([]*config.Flow, 0, len(filePaths))
	// Flow ids must be unique across every loaded document: the id names
	// the output bundle, so a collision would silently overwrite a pack.
	sources := make(map[string]string, len(filePaths))
	for _, filePath := range filePaths {
		flow, err := l.loadFile(ctx, parser, filePath)
		if err != nil {
			return nil, err
		}
		if previous, ok := sources[flow.ID]; ok {
			return nil, &MalformedFlowError{
				Path:   filePath,
				Detail: fmt.Sprintf("flow id %q already declared in %s", flow.ID, previous),
			}
		}
		sources[flow.ID] = filePath
		flows = append(flows, flow)
		logger.Debug("Flow loaded.", "file", filePath, "flow", flow.ID, "nodes", len(flow.Nodes))
	}
	return flows, nil
}

// loadFile parses and validates a single flow document.
func (l *Loader) loadFile(ctx context.Context, parser *hclparse.Parser, filePath string) (*config.Flow, error) {
	hclFile, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, &MalformedFlowError{Path: filePath, Detail: "syntax error", Err: diags}
	}

	var raw schema.FlowConfig
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &raw); diags.HasErrors() {
		return nil, &MalformedFlowError{Path: filePath, Detail: "invalid flow structure", Err: diags}
	}
	if raw.Flow == nil {
		return nil, &MalformedFlowError{Path: filePath, Detail: "missing flow block"}
	}

	flow, err := l.translateFlow(ctx, &raw)
	if err != nil {
		var malformed *MalformedFlowError
		if errors.As(err, &malformed) {
			malformed.Path = filePath
			return nil, malformed
		}
		return nil, &MalformedFlowError{Path: filePath, Detail: "translation failed", Err: err}
	}
	return flow, nil
}
