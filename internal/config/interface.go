package config

import "context"

// Loader is the interface for a format-specific graph definition loader.
type Loader interface {
	// Load reads one or more definition files from the given path, which may
	// be a single file or a directory, and translates them into the
	// format-agnostic model.
	Load(ctx context.Context, path string) (*Model, error)
}
