package hclgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/accelgraph/accelgraph/internal/config"
	"github.com/accelgraph/accelgraph/internal/ctxlog"
	"github.com/accelgraph/accelgraph/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL graph definition loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under path, which may be a single file or a
// directory, and merges the graph blocks found there. Exactly one graph
// block must be present across all files.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path", path)

	files, err := l.findHCLFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found at %s", path)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	var graphs []*graphBlock

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		graphs = append(graphs, root.Graphs...)
	}

	if len(graphs) != 1 {
		return nil, fmt.Errorf("expected exactly one graph block, found %d", len(graphs))
	}

	def, err := l.translateGraph(graphs[0])
	if err != nil {
		return nil, err
	}
	logger.Debug("HCL loading complete.", "graph", def.Name, "buffers", len(def.Buffers), "nodes", len(def.Nodes))
	return &config.Model{Graph: def}, nil
}

// findHCLFiles resolves path to a flat list of .hcl files.
func (l *Loader) findHCLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing path %s: %w", path, err)
	}
	if info.IsDir() {
		return fsutil.FindFilesByExtension(path, ".hcl")
	}
	if filepath.Ext(path) != ".hcl" {
		return nil, fmt.Errorf("%s is not an .hcl file", path)
	}
	return []string{path}, nil
}
