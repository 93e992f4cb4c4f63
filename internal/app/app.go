package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/accelgraph/accelgraph/internal/config"
	"github.com/accelgraph/accelgraph/internal/ctxlog"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	model  *config.Model
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and the loaded
// graph definition.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, cfg.GraphPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph definition: %w", err)
	}
	logger.Debug("Graph definition loaded and translated into unified model.")

	return &App{
		outW:   outW,
		logger: logger,
		model:  model,
	}, nil
}

// Model returns the loaded graph definition. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}
