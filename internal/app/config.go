package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// FlowPath is a single .hcl flow file or a directory of them.
	FlowPath string
	// ComponentsDir optionally maps bare component names to local
	// directories before cache and registry resolution.
	ComponentsDir string
	// CacheDir is the build cache for registry components.
	CacheDir string
	// RegistryURL is the optional component registry base URL; empty
	// means offline.
	RegistryURL string
	// OutputPath is the bundle destination: a file for a single flow, a
	// directory when the flow path yields several flows.
	OutputPath string
	// MetaPath optionally points at a pack metadata HCL file.
	MetaPath string

	LogFormat   string
	LogLevel    string
	WorkerCount int
	// Strict enables the determinism self-check: build twice, compare
	// digests.
	Strict bool
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.FlowPath == "" {
		return nil, errors.New("FlowPath is a required configuration field and cannot be empty")
	}
	if cfg.OutputPath == "" {
		return nil, errors.New("OutputPath is a required configuration field and cannot be empty")
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	return &cfg, nil
}
