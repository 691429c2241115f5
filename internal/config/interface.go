package config

import "context"

// Loader is the interface for a format-specific flow document loader.
type Loader interface {
	// Load reads one or more flow documents from the given path (a single
	// file or a directory scanned recursively), translates them into the
	// format-agnostic model, and returns the flows in a deterministic
	// order. Loaders perform structural validation only; node
	// configuration stays opaque.
	Load(ctx context.Context, path string) ([]*Flow, error)
}
