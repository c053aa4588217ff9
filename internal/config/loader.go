package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a
// default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// Load reads configuration from a YAML file and applies APPFORGE_*
// environment overrides on top. An empty path or missing file is not an
// error; defaults apply. Malformed YAML returns an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file is not an error.
		case err != nil:
			return nil, fmt.Errorf("reading %s: %w", path, err)
		default:
			// A providers section replaces the default set rather than
			// merging into it; yaml.Unmarshal would otherwise keep the
			// default entries alongside the user's.
			defaults := cfg.Providers
			cfg.Providers = nil
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
			if len(cfg.Providers) == 0 {
				cfg.Providers = defaults
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with APPFORGE_* environment variables.
func applyEnv(cfg *Config) {
	cfg.Checkpoint.Backend = getEnv("APPFORGE_CHECKPOINT_BACKEND", cfg.Checkpoint.Backend)
	cfg.Checkpoint.SQLitePath = getEnv("APPFORGE_SQLITE_PATH", cfg.Checkpoint.SQLitePath)
	cfg.Checkpoint.PostgresURL = os.Getenv("APPFORGE_POSTGRES_URL")
	cfg.Events.NATSURL = getEnv("APPFORGE_NATS_URL", cfg.Events.NATSURL)
	cfg.Health.DBPath = getEnv("APPFORGE_HEALTH_DB_PATH", cfg.Health.DBPath)
	cfg.Engine.MaxInFlight = getEnvInt("APPFORGE_MAX_IN_FLIGHT", cfg.Engine.MaxInFlight)
	cfg.Engine.TaskTimeout = getEnvInt("APPFORGE_TASK_TIMEOUT", cfg.Engine.TaskTimeout)
	cfg.Engine.Deadline = getEnvInt("APPFORGE_DEADLINE", cfg.Engine.Deadline)
}

func (c *Config) validate() error {
	switch c.Checkpoint.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Checkpoint.PostgresURL == "" {
			return fmt.Errorf("APPFORGE_POSTGRES_URL environment variable is required for the postgres checkpoint backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	return nil
}
