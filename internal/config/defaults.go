package config

// Default configuration values.
const (
	DefaultCheckpointBackend = "sqlite"
	DefaultSQLitePath        = "./data/appforge.db"
	DefaultHealthDBPath      = "./data/health"
	DefaultMaxInFlight       = 4
	DefaultTaskTimeout       = 300 // seconds
)

// DefaultConfig returns the built-in configuration: two providers in a
// primary/fallback pair and conservative resilience settings.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"primary": {
				BaseURL:           "https://api.openai.com/v1",
				APIKeyEnv:         "OPENAI_API_KEY",
				Model:             "gpt-4o",
				Priority:          0,
				RequestsPerMinute: 60,
				TokensPerMinute:   90000,
			},
			"fallback": {
				BaseURL:           "https://api.openai.com/v1",
				APIKeyEnv:         "OPENAI_API_KEY",
				Model:             "gpt-4o-mini",
				Priority:          1,
				RequestsPerMinute: 120,
				TokensPerMinute:   120000,
			},
		},
		Engine: EngineConfig{
			MaxInFlight: DefaultMaxInFlight,
			TaskTimeout: DefaultTaskTimeout,
		},
		Breaker: BreakerConfig{
			Window:           60,
			FailureThreshold: 0.5,
			MinCalls:         5,
			ConsecutiveTrip:  5,
			Cooldown:         30,
		},
		Checkpoint: CheckpointConfig{
			Backend:    DefaultCheckpointBackend,
			SQLitePath: DefaultSQLitePath,
		},
		Health: HealthConfig{
			DBPath: DefaultHealthDBPath,
		},
	}
}
