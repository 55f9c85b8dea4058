package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, DefaultModelA, cfg.Tracks.A.Model)
	assert.Equal(t, DefaultModelB, cfg.Tracks.B.Model)
	assert.Equal(t, DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Retry.UseJitter)
	assert.True(t, cfg.RateLimit.Local.Enabled)
	assert.False(t, cfg.RateLimit.Global.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestTracksConfig_Binding(t *testing.T) {
	tracks := DefaultConfig().Tracks

	a, ok := tracks.Binding("A")
	require.True(t, ok)
	assert.Equal(t, DefaultModelA, a.Model)

	_, ok = tracks.Binding("C")
	assert.False(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"no providers", func(c *Config) { c.Providers = nil }, ErrNoProviders},
		{"unbound track", func(c *Config) { c.Tracks.B.Model = "" }, ErrTrackUnbound},
		{"unknown provider", func(c *Config) { c.Tracks.A.Provider = "anthropic" }, ErrTrackProvider},
		{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, ErrInvalidRetry},
		{"inverted intervals", func(c *Config) { c.Retry.InitialInterval = time.Minute }, ErrInvalidRetry},
		{"shrinking multiplier", func(c *Config) { c.Retry.Multiplier = 0.5 }, ErrInvalidRetry},
		{"burst without rate", func(c *Config) {
			c.RateLimit.Local.TokensPerSecond = 0
		}, ErrInvalidRateLimit},
		{"global without redis", func(c *Config) { c.RateLimit.Global.Enabled = true }, ErrInvalidRateLimit},
		{"global without rate", func(c *Config) {
			c.RateLimit.Global = GlobalRateLimitConfig{Enabled: true, RedisAddr: "localhost:6379"}
		}, ErrInvalidRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestRateLimitConfig_DisabledSkipsChecks(t *testing.T) {
	cfg := RateLimitConfig{Local: LocalRateLimitConfig{TokensPerSecond: -1}}
	assert.NoError(t, cfg.Validate())
}
