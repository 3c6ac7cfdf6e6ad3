package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR_NAME} references in string values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the configuration file at path, expands ${ENV_VAR} references,
// applies defaults and validates the result. A missing file yields a config
// of pure defaults (useful for local development).
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		expanded := expandEnv(string(data))
		if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// expandEnv replaces ${VAR} references with environment variable values.
// Unset variables expand to the empty string.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func validate(cfg *Config) error {
	if cfg.Models.MaxContextTokens < 0 {
		return fmt.Errorf("models.max_context_tokens must not be negative")
	}
	if cfg.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	if cfg.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	if cfg.Queue.Depth < 1 {
		return fmt.Errorf("queue.depth must be at least 1")
	}
	return nil
}
