package configuration

import (
	"time"
)

// HTTP constants.
const (
	DefaultHTTPTimeoutSeconds = 30
)

// Retry constants.
const (
	DefaultMaxAttempts       = 3
	DefaultMaxElapsedTime    = 45 * time.Second
	DefaultInitialInterval   = 250 * time.Millisecond
	DefaultMaxInterval       = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Rate limiting constants.
const (
	DefaultTokensPerSecond = 10
	DefaultBurstSize       = 20
	DefaultConnectTimeout  = 5 * time.Second
)

// Circuit breaker constants.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultHalfOpenProbes   = 1
	DefaultOpenTimeout      = 30 * time.Second
)

// Track defaults: a weaker and a stronger chat model from the same provider.
const (
	DefaultProvider    = "openai"
	DefaultModelA      = "gpt-3.5-turbo"
	DefaultModelB      = "gpt-4"
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// DefaultConfig returns a configuration that talks to OpenAI with local rate
// limiting only. API keys are filled in by the caller.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		Providers: map[string]ProviderConfig{
			DefaultProvider: {APIKeyEnv: "OPENAI_API_KEY"},
		},
		Tracks: TracksConfig{
			A: ModelBinding{Provider: DefaultProvider, Model: DefaultModelA, MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature},
			B: ModelBinding{Provider: DefaultProvider, Model: DefaultModelB, MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature},
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			MaxElapsedTime:  DefaultMaxElapsedTime,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: DefaultFailureThreshold,
			SuccessThreshold: DefaultSuccessThreshold,
			HalfOpenProbes:   DefaultHalfOpenProbes,
			OpenTimeout:      DefaultOpenTimeout,
		},
		RateLimit: RateLimitConfig{
			Local: LocalRateLimitConfig{
				TokensPerSecond: DefaultTokensPerSecond,
				BurstSize:       DefaultBurstSize,
				Enabled:         true,
			},
			Global: GlobalRateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: DefaultTokensPerSecond, // Use same default as local
				ConnectTimeout:    DefaultConnectTimeout,
			},
		},
	}
}
