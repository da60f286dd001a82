package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the config file path does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// Load reads a YAML config file, expands environment variables, merges the
// result over built-in defaults, and validates. An empty path returns the
// validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}

		data = ExpandEnv(data)

		var user Config
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}

		// User values override defaults; zero values keep the default.
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config: %w", err)
		}
		// mergo treats a pointer to false as empty and keeps the default,
		// so the heuristic toggle is carried over by hand.
		if user.Agent.SequentialDependencyHeuristic != nil {
			cfg.Agent.SequentialDependencyHeuristic = user.Agent.SequentialDependencyHeuristic
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	slog.Info("Configuration loaded",
		"path", path,
		"store_backend", cfg.Store.Backend,
		"max_iterations", cfg.Agent.MaxIterations,
		"mode", cfg.Agent.Mode)
	return cfg, nil
}
