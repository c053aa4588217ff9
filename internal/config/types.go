package config

import (
	"time"

	"appforge/internal/breaker"
	"appforge/internal/engine"
	"appforge/internal/provider"
	"appforge/internal/retry"
)

// ProviderConfig defines one LLM provider registered with the gateway.
// Priority orders the fallback chain; lower values are preferred.
type ProviderConfig struct {
	BaseURL           string `yaml:"baseUrl"`
	APIKeyEnv         string `yaml:"apiKeyEnv,omitempty"`
	Model             string `yaml:"model,omitempty"`
	Priority          int    `yaml:"priority"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
	TokensPerMinute   int    `yaml:"tokensPerMinute"`
}

// EngineConfig bounds a single generation run. Durations are in seconds;
// zero values fall back to engine defaults.
type EngineConfig struct {
	MaxInFlight int `yaml:"maxInFlight"`
	TaskTimeout int `yaml:"taskTimeout"`
	Deadline    int `yaml:"deadline"`
}

// RetryConfig tunes the per-task retry policy. Intervals are in
// milliseconds; MaxAttempts caps attempts per error kind.
type RetryConfig struct {
	InitialInterval int            `yaml:"initialInterval"`
	MaxInterval     int            `yaml:"maxInterval"`
	MaxElapsedTime  int            `yaml:"maxElapsedTime"`
	Multiplier      float64        `yaml:"multiplier"`
	MaxAttempts     map[string]int `yaml:"maxAttempts"`
}

// BreakerConfig tunes per-provider circuit breakers. Window and Cooldown
// are in seconds.
type BreakerConfig struct {
	Window           int     `yaml:"window"`
	FailureThreshold float64 `yaml:"failureThreshold"`
	MinCalls         int     `yaml:"minCalls"`
	ConsecutiveTrip  int     `yaml:"consecutiveTrip"`
	Cooldown         int     `yaml:"cooldown"`
}

// CheckpointConfig selects the checkpoint backend. PostgresURL is never
// read from YAML; it comes from APPFORGE_POSTGRES_URL.
type CheckpointConfig struct {
	Backend     string `yaml:"backend"` // "sqlite", "postgres" or "memory"
	SQLitePath  string `yaml:"sqlitePath"`
	PostgresURL string `yaml:"-"`
}

// EventsConfig configures the optional NATS mirror of the event bus.
// An empty URL disables it.
type EventsConfig struct {
	NATSURL string `yaml:"natsUrl"`
}

// HealthConfig configures provider-health persistence.
type HealthConfig struct {
	DBPath string `yaml:"dbPath"`
}

// Config is the top-level configuration.
type Config struct {
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Engine     EngineConfig              `yaml:"engine"`
	Retry      RetryConfig               `yaml:"retry"`
	Breaker    BreakerConfig             `yaml:"breaker"`
	Checkpoint CheckpointConfig          `yaml:"checkpoint"`
	Events     EventsConfig              `yaml:"events"`
	Health     HealthConfig              `yaml:"health"`
}

// EngineSettings converts the YAML engine section to engine.Config.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		MaxInFlight: c.Engine.MaxInFlight,
		TaskTimeout: time.Duration(c.Engine.TaskTimeout) * time.Second,
		Deadline:    time.Duration(c.Engine.Deadline) * time.Second,
	}
}

// RetrySettings converts the YAML retry section to retry.Config. Kinds
// absent from MaxAttempts keep the policy defaults.
func (c *Config) RetrySettings() retry.Config {
	rc := retry.DefaultConfig()
	if c.Retry.InitialInterval > 0 {
		rc.InitialInterval = time.Duration(c.Retry.InitialInterval) * time.Millisecond
	}
	if c.Retry.MaxInterval > 0 {
		rc.MaxInterval = time.Duration(c.Retry.MaxInterval) * time.Millisecond
	}
	if c.Retry.MaxElapsedTime > 0 {
		rc.MaxElapsedTime = time.Duration(c.Retry.MaxElapsedTime) * time.Millisecond
	}
	if c.Retry.Multiplier > 0 {
		rc.Multiplier = c.Retry.Multiplier
	}
	for kind, n := range c.Retry.MaxAttempts {
		rc.MaxAttempts[provider.ErrorKind(kind)] = n
	}
	return rc
}

// BreakerSettings converts the YAML breaker section to breaker.Config.
func (c *Config) BreakerSettings() breaker.Config {
	return breaker.Config{
		Window:           time.Duration(c.Breaker.Window) * time.Second,
		FailureThreshold: c.Breaker.FailureThreshold,
		MinCalls:         uint32(c.Breaker.MinCalls),
		ConsecutiveTrip:  uint32(c.Breaker.ConsecutiveTrip),
		Cooldown:         time.Duration(c.Breaker.Cooldown) * time.Second,
	}
}

// ProviderSettings converts one provider section to gateway settings.
func (c *Config) ProviderSettings(name string) provider.Settings {
	pc := c.Providers[name]
	return provider.Settings{
		Model:             pc.Model,
		Priority:          pc.Priority,
		RequestsPerMinute: pc.RequestsPerMinute,
		TokensPerMinute:   pc.TokensPerMinute,
	}
}
