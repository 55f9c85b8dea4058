package ratelimit

import (
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	llmerrors "github.com/ahrav/go-arena/internal/llm/errors"
)

// timedLimiter pairs a token bucket with its last use so cleanup can evict
// idle keys without holding the map lock during requests.
type timedLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nanoseconds
	// exhausted keeps a limiter alive through cleanup while it is refusing,
	// so eviction cannot hand out a fresh burst.
	exhausted atomic.Bool
}

func (l *Limiter) checkLocalLimit(key string) error {
	tl := l.getOrCreateLimiter(key, rate.Limit(l.localConfig.TokensPerSecond), l.localConfig.BurstSize)
	return refuse(tl, "local", int(l.localConfig.TokensPerSecond))
}

// checkFallbackLimit enforces DefaultRateLimit when Redis is unavailable and
// local limiting is disabled.
func (l *Limiter) checkFallbackLimit(key string) error {
	tl := l.getOrCreateLimiter("fallback:"+key, rate.Limit(DefaultRateLimit), DefaultRateLimit)
	return refuse(tl, "fallback", DefaultRateLimit)
}

// refuse takes a token or reports how long until one is available. The
// probing reservation is cancelled so refused requests do not drain the bucket.
func refuse(tl *timedLimiter, scope string, limit int) error {
	if tl.limiter.Allow() {
		tl.exhausted.Store(false)
		return nil
	}
	tl.exhausted.Store(true)

	reservation := tl.limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	return &llmerrors.RateLimitError{
		Provider:   scope,
		Limit:      limit,
		RetryAfter: min(max(int(math.Ceil(delay.Seconds())), minRetryAfterSeconds), maxRetryAfterSeconds),
		LocalLimit: true,
	}
}

func (l *Limiter) getOrCreateLimiter(key string, r rate.Limit, burst int) *timedLimiter {
	now := time.Now().UnixNano()

	l.localMu.RLock()
	if tl, ok := l.localLimiters[key]; ok {
		// Touch under RLock so CleanupStale cannot delete before the update.
		tl.lastUsed.Store(now)
		l.localMu.RUnlock()
		return tl
	}
	l.localMu.RUnlock()

	l.localMu.Lock()
	defer l.localMu.Unlock()
	if tl, ok := l.localLimiters[key]; ok {
		tl.lastUsed.Store(now)
		return tl
	}

	tl := &timedLimiter{limiter: rate.NewLimiter(r, burst)}
	tl.lastUsed.Store(now)
	l.localLimiters[key] = tl
	return tl
}

// CleanupStale removes limiters unused since cutoff that are not currently
// exhausted. It returns the number removed.
func (l *Limiter) CleanupStale(cutoff time.Time) int {
	threshold := cutoff.UnixNano()

	l.localMu.Lock()
	defer l.localMu.Unlock()

	removed := 0
	for key, tl := range l.localLimiters {
		if tl.lastUsed.Load() < threshold && !tl.exhausted.Load() {
			delete(l.localLimiters, key)
			removed++
		}
	}
	return removed
}
