package types

import "time"

// Config is the codeloom configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Model selection, "provider/model" form (e.g. "anthropic/claude-sonnet-4").
	Model string `json:"model,omitempty"`

	// Provider configs keyed by provider ID.
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// Engine tuning.
	Engine EngineConfig `json:"engine,omitempty"`

	// Log level: DEBUG|INFO|WARN|ERROR|FATAL.
	LogLevel string `json:"logLevel,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// MaxTokens overrides the provider's default output budget.
	MaxTokens int `json:"maxTokens,omitempty"`

	Disable bool `json:"disable,omitempty"`
}

// EngineConfig bounds the request dispatcher and the tool-calling loop.
type EngineConfig struct {
	// MaxConcurrent is the maximum number of in-flight requests. Excess
	// requests queue FIFO.
	MaxConcurrent int `json:"maxConcurrent,omitempty"`

	// RequestTimeoutSeconds bounds each dispatched request.
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds,omitempty"`

	// CacheTTLSeconds bounds reuse of cached one-shot responses.
	CacheTTLSeconds int `json:"cacheTTLSeconds,omitempty"`

	// MaxIterations caps tool-calling turns per session. It is a required,
	// explicit parameter: sessions refuse to run with a non-positive value.
	MaxIterations int `json:"maxIterations,omitempty"`
}

// RequestTimeout returns the configured per-request deadline.
func (e EngineConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutSeconds) * time.Second
}

// CacheTTL returns the configured cache entry lifetime.
func (e EngineConfig) CacheTTL() time.Duration {
	return time.Duration(e.CacheTTLSeconds) * time.Second
}

// DefaultEngineConfig returns the documented engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrent:         4,
		RequestTimeoutSeconds: 120,
		CacheTTLSeconds:       300,
		MaxIterations:         25,
	}
}

// DefaultConfig returns a configuration with engine defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Provider: make(map[string]ProviderConfig),
		Engine:   DefaultEngineConfig(),
		LogLevel: "INFO",
	}
}
