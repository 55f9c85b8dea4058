// Package configuration holds the LLM client's settings: provider
// credentials, the model bound to each annotation track, and the resilience
// knobs for retry and rate limiting.
package configuration

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Configuration validation errors.
var (
	ErrNoProviders      = errors.New("no providers configured")
	ErrTrackUnbound     = errors.New("track has no provider/model binding")
	ErrTrackProvider    = errors.New("track references an unconfigured provider")
	ErrInvalidRetry     = errors.New("invalid retry configuration")
	ErrInvalidRateLimit = errors.New("invalid rate limit configuration")

	ErrInvalidCircuitBreaker = errors.New("invalid circuit breaker configuration")
)

// Config holds the full configuration of the LLM client.
type Config struct {
	// HTTPTimeout bounds each provider HTTP attempt.
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout"`
	HTTPClient  *http.Client  `json:"-" yaml:"-"`

	// Providers are keyed by provider name ("openai", "anthropic").
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`

	// Tracks binds each annotation track to a provider model.
	Tracks TracksConfig `json:"tracks" yaml:"tracks"`

	Retry          RetryConfig          `json:"retry" yaml:"retry"`
	RateLimit      RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// ProviderConfig holds provider-specific endpoint and authentication.
type ProviderConfig struct {
	Endpoint  string            `json:"endpoint" yaml:"endpoint"`
	APIKey    string            `json:"-" yaml:"-"` // Sensitive, not serialized
	APIKeyEnv string            `json:"api_key_env" yaml:"api_key_env"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ModelBinding selects the provider model answering one track.
type ModelBinding struct {
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int64   `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// TracksConfig binds model A (weak) and model B (strong).
type TracksConfig struct {
	A ModelBinding `json:"a" yaml:"a"`
	B ModelBinding `json:"b" yaml:"b"`
}

// RetryConfig controls retry behavior for failed provider calls.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts"`         // Maximum attempts including the first
	MaxElapsedTime  time.Duration `json:"max_elapsed_time" yaml:"max_elapsed_time"` // Total time budget for all attempts
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"` // Starting backoff duration
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`         // Maximum backoff duration
	Multiplier      float64       `json:"multiplier" yaml:"multiplier"`             // Exponential backoff multiplier
	UseJitter       bool          `json:"use_jitter" yaml:"use_jitter"`             // Enable full jitter randomization
}

// CircuitBreakerConfig controls the per-model breaker wrapped around retries.
type CircuitBreakerConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold   int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold   int           `json:"success_threshold" yaml:"success_threshold"`
	HalfOpenProbes     int           `json:"half_open_probes" yaml:"half_open_probes"`
	OpenTimeout        time.Duration `json:"open_timeout" yaml:"open_timeout"`
	AdaptiveThresholds bool          `json:"adaptive_thresholds" yaml:"adaptive_thresholds"`
}

// RateLimitConfig combines in-memory token buckets with a Redis fixed window
// shared by every server replica.
type RateLimitConfig struct {
	Local  LocalRateLimitConfig  `json:"local" yaml:"local"`
	Global GlobalRateLimitConfig `json:"global" yaml:"global"`
}

// LocalRateLimitConfig for in-memory token buckets.
type LocalRateLimitConfig struct {
	TokensPerSecond float64 `json:"tokens_per_second" yaml:"tokens_per_second"`
	BurstSize       int     `json:"burst_size" yaml:"burst_size"`
	Enabled         bool    `json:"enabled" yaml:"enabled"`
}

// GlobalRateLimitConfig for Redis-based fixed window rate limiting.
type GlobalRateLimitConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	RequestsPerSecond int           `json:"requests_per_second" yaml:"requests_per_second"`
	RedisAddr         string        `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword     string        `json:"-" yaml:"-"` // Sensitive
	RedisDB           int           `json:"redis_db" yaml:"redis_db"`
	ConnectTimeout    time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// Binding returns the model binding for track "A" or "B".
func (t TracksConfig) Binding(track string) (ModelBinding, bool) {
	switch track {
	case "A":
		return t.A, true
	case "B":
		return t.B, true
	}
	return ModelBinding{}, false
}

// Validate checks that both tracks are bound to configured providers and that
// the resilience settings are usable.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return ErrNoProviders
	}
	for _, track := range []string{"A", "B"} {
		b, _ := c.Tracks.Binding(track)
		if b.Provider == "" || b.Model == "" {
			return fmt.Errorf("%w: %s", ErrTrackUnbound, track)
		}
		if _, ok := c.Providers[b.Provider]; !ok {
			return fmt.Errorf("%w: track %s uses %q", ErrTrackProvider, track, b.Provider)
		}
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return err
	}
	return c.RateLimit.Validate()
}

// Validate requires positive thresholds when the breaker is enabled.
func (b CircuitBreakerConfig) Validate() error {
	if !b.Enabled {
		return nil
	}
	if b.FailureThreshold <= 0 || b.SuccessThreshold <= 0 || b.HalfOpenProbes <= 0 {
		return fmt.Errorf("%w: thresholds and probes must be positive", ErrInvalidCircuitBreaker)
	}
	if b.OpenTimeout <= 0 {
		return fmt.Errorf("%w: open timeout must be positive (got %v)", ErrInvalidCircuitBreaker, b.OpenTimeout)
	}
	return nil
}

// Validate rejects negative or inconsistent retry settings.
func (r RetryConfig) Validate() error {
	switch {
	case r.MaxAttempts < 0:
		return fmt.Errorf("%w: max attempts cannot be negative (got %d)", ErrInvalidRetry, r.MaxAttempts)
	case r.InitialInterval < 0 || r.MaxInterval < 0 || r.MaxElapsedTime < 0:
		return fmt.Errorf("%w: durations cannot be negative", ErrInvalidRetry)
	case r.MaxInterval > 0 && r.InitialInterval > r.MaxInterval:
		return fmt.Errorf("%w: initial interval %v exceeds max interval %v", ErrInvalidRetry, r.InitialInterval, r.MaxInterval)
	case r.Multiplier != 0 && r.Multiplier < 1:
		return fmt.Errorf("%w: multiplier must be >= 1 (got %v)", ErrInvalidRetry, r.Multiplier)
	}
	return nil
}

// Validate ensures BurstSize is 0 when TokensPerSecond is 0 and that the
// global window has a rate when enabled.
func (r RateLimitConfig) Validate() error {
	if r.Local.Enabled {
		if r.Local.TokensPerSecond < 0 || r.Local.BurstSize < 0 {
			return fmt.Errorf("%w: local limits cannot be negative", ErrInvalidRateLimit)
		}
		if r.Local.TokensPerSecond == 0 && r.Local.BurstSize > 0 {
			return fmt.Errorf("%w: burst size must be 0 when tokens per second is 0", ErrInvalidRateLimit)
		}
	}
	if r.Global.Enabled {
		if r.Global.RequestsPerSecond <= 0 {
			return fmt.Errorf("%w: global requests per second must be positive (got %d)", ErrInvalidRateLimit, r.Global.RequestsPerSecond)
		}
		if r.Global.RedisAddr == "" {
			return fmt.Errorf("%w: global limiting requires a redis address", ErrInvalidRateLimit)
		}
	}
	return nil
}
