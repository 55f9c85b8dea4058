// Package ratelimit throttles provider calls with a local token bucket per
// provider/model/operation and an optional Redis fixed window shared by all
// server replicas. When Redis misbehaves the limiter degrades to local-only
// limiting; if local limiting is disabled a conservative fallback bucket
// applies so the client never fails open.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-arena/internal/llm/configuration"
	"github.com/ahrav/go-arena/internal/llm/transport"
)

// Rate limiting constants.
const (
	RedisReadTimeoutSeconds  = 5
	RedisWriteTimeoutSeconds = 5
	RedisPoolSize            = 10

	// DefaultRateLimit is the fallback bucket rate in requests per second.
	DefaultRateLimit = 10

	// CleanupInterval determines how often stale local limiters are removed.
	CleanupInterval = 1 * time.Hour

	// LimiterTTL is how long an unused local limiter survives.
	LimiterTTL = 1 * time.Hour
)

// Stats is a point-in-time view of limiter state.
type Stats struct {
	LocalLimiters int  `json:"local_limiters"`
	GlobalEnabled bool `json:"global_enabled"`
	DegradedMode  bool `json:"degraded_mode"`
}

// Limiter is the rate limiting middleware. Create it with NewLimiter and
// release its cleanup goroutine with Stop.
type Limiter struct {
	localMu       sync.RWMutex
	localLimiters map[string]*timedLimiter
	localConfig   configuration.LocalRateLimitConfig

	globalClient *redis.Client
	globalConfig configuration.GlobalRateLimitConfig
	degraded     atomic.Bool

	cleanupMu     sync.Mutex
	cleanupTicker *time.Ticker
	cleanupStop   chan struct{}
	cleanupDone   sync.WaitGroup

	logger *slog.Logger
}

// NewLimiter validates cfg and builds a Limiter. When global limiting is
// enabled and client is nil, a client is created from cfg and pinged; a
// failed ping starts the limiter in degraded mode rather than failing.
// The background cleanup goroutine is started before returning.
func NewLimiter(cfg configuration.RateLimitConfig, client *redis.Client) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		localLimiters: make(map[string]*timedLimiter),
		localConfig:   cfg.Local,
		globalConfig:  cfg.Global,
		logger:        slog.Default().With("component", "ratelimit"),
	}

	if cfg.Global.Enabled {
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:         cfg.Global.RedisAddr,
				Password:     cfg.Global.RedisPassword,
				DB:           cfg.Global.RedisDB,
				DialTimeout:  cfg.Global.ConnectTimeout,
				ReadTimeout:  RedisReadTimeoutSeconds * time.Second,
				WriteTimeout: RedisWriteTimeoutSeconds * time.Second,
				PoolSize:     RedisPoolSize,
			})

			timeout := cfg.Global.ConnectTimeout
			if timeout <= 0 {
				timeout = configuration.DefaultConnectTimeout
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := client.Ping(ctx).Err(); err != nil {
				l.logger.Warn("Redis connection failed, using local-only rate limiting", "error", err)
				l.degraded.Store(true)
			}
		}
		l.globalClient = client
	}

	l.Start()
	return l, nil
}

// Middleware returns the transport middleware enforcing the limits.
func (l *Limiter) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if err := l.Check(ctx, req); err != nil {
				return nil, err
			}
			return next.Handle(ctx, req)
		})
	}
}

// Check applies the local bucket, then the global window. A Redis failure
// switches the limiter to degraded mode for the rest of its life.
func (l *Limiter) Check(ctx context.Context, req *transport.Request) error {
	key := buildKey(req)

	if l.localConfig.Enabled {
		if err := l.checkLocalLimit(key); err != nil {
			return err
		}
	}

	if l.globalConfig.Enabled && !l.degraded.Load() {
		err := l.checkGlobalLimit(ctx, key)
		switch {
		case err == nil:
			return nil
		case isRedisError(err):
			l.logger.Warn("Redis error, switching to degraded mode", "error", err)
			l.degraded.Store(true)
		default:
			return err
		}
	}

	if l.globalConfig.Enabled && l.degraded.Load() && !l.localConfig.Enabled {
		return l.checkFallbackLimit(key)
	}
	return nil
}

// Degraded reports whether global limiting has been abandoned.
func (l *Limiter) Degraded() bool { return l.degraded.Load() }

// Stats returns a snapshot for health reporting.
func (l *Limiter) Stats() Stats {
	l.localMu.RLock()
	n := len(l.localLimiters)
	l.localMu.RUnlock()
	return Stats{
		LocalLimiters: n,
		GlobalEnabled: l.globalConfig.Enabled,
		DegradedMode:  l.degraded.Load(),
	}
}

// buildKey scopes limits per provider, model and operation. Generation and
// nudge calls draw from separate buckets.
func buildKey(req *transport.Request) string {
	return fmt.Sprintf("%s:%s:%s", req.Provider, req.Model, req.Operation)
}

// Start launches the stale limiter cleanup goroutine. It is idempotent.
func (l *Limiter) Start() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if l.cleanupTicker != nil {
		return
	}

	l.cleanupStop = make(chan struct{})
	l.cleanupTicker = time.NewTicker(CleanupInterval)

	l.cleanupDone.Add(1)
	go l.cleanupLoop(l.cleanupTicker, l.cleanupStop)
}

// Stop terminates the cleanup goroutine and waits for it. It is idempotent.
func (l *Limiter) Stop() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if l.cleanupTicker == nil {
		return
	}

	close(l.cleanupStop)
	l.cleanupTicker.Stop()
	l.cleanupDone.Wait()
	l.cleanupTicker = nil
}

func (l *Limiter) cleanupLoop(ticker *time.Ticker, stop <-chan struct{}) {
	defer l.cleanupDone.Done()

	for {
		select {
		case <-ticker.C:
			l.CleanupStale(time.Now().Add(-LimiterTTL))
		case <-stop:
			return
		}
	}
}
