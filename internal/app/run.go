package app

import (
	"context"
	"fmt"
	"os"

	"github.com/accelgraph/accelgraph/internal/ctxlog"
	"github.com/accelgraph/accelgraph/internal/device/sim"
	"github.com/accelgraph/accelgraph/internal/executor"
)

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	dev := sim.New()

	a.logger.Debug("Building device graph from config model...")
	st, err := buildGraph(ctx, dev, a.model.Graph)
	if err != nil {
		return fmt.Errorf("failed to build device graph: %w", err)
	}
	defer st.release(dev)
	a.logger.Info("Graph built.", "name", a.model.Graph.Name, "nodes", st.graph.NodeCount(), "edges", st.graph.EdgeCount())

	if cfg.DotPath != "" {
		return a.exportDOT(st, cfg.DotPath)
	}

	if st.graph.NodeCount() == 0 {
		a.logger.Warn("No nodes found in graph, execution not required.")
		return nil
	}

	exec, err := executor.Instantiate(ctx, st.graph, executor.Options{
		Width:   cfg.Queues,
		Capture: cfg.Capture,
	})
	if err != nil {
		return fmt.Errorf("instantiation failed: %w", err)
	}
	defer func() { _ = exec.Destroy() }()

	caller, err := dev.CreateQueue()
	if err != nil {
		return fmt.Errorf("failed to create caller queue: %w", err)
	}
	defer caller.Release()

	a.logger.Info("Starting graph execution.", "launches", cfg.Launches, "capture", cfg.Capture)
	for i := 0; i < cfg.Launches; i++ {
		if err := exec.Launch(ctx, caller); err != nil {
			return fmt.Errorf("launch %d failed: %w", i+1, err)
		}
	}
	if err := caller.Synchronize(); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	if err := exec.Synchronize(ctx); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("Execution finished.")

	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) exportDOT(st *buildState, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create DOT file: %w", err)
	}
	defer f.Close()

	if err := st.graph.ExportDOT(f); err != nil {
		return fmt.Errorf("failed to export DOT: %w", err)
	}
	a.logger.Info("Graph exported.", "path", path)
	return nil
}
