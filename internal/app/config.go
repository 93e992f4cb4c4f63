package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	GraphPath string // hcl file or directory

	LogFormat string
	LogLevel  string

	Queues   int    // executable queue pool width
	Launches int    // number of launches per run
	Capture  bool   // hardware packet capture and replay
	DotPath  string // when set, export DOT instead of executing
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.GraphPath == "" {
		return nil, errors.New("GraphPath is a required configuration field and cannot be empty")
	}
	if cfg.Queues < 0 {
		return nil, errors.New("Queues must not be negative")
	}
	if cfg.Launches < 1 {
		return nil, errors.New("Launches must be at least 1")
	}
	return &cfg, nil
}
