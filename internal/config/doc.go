// Package config defines the format-agnostic flow model for the
// application, along with the Loader interface for reading flow
// documents from various sources.
//
// The `config.Flow` is the single source of truth for the `graph`,
// `resolver`, and `pack` packages. Concrete implementations of the
// Loader interface, such as for HCL, are provided in separate packages.
package config
