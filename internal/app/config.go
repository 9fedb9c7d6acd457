package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	GridPath string // .hcl grid file or directory

	LogFormat string
	LogLevel  string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.GridPath == "" {
		return nil, errors.New("GridPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
