package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	llmerrors "github.com/ahrav/go-arena/internal/llm/errors"
)

const (
	globalWindow           = time.Second
	minRetryAfterSeconds   = 1
	maxRetryAfterSeconds   = 3600
	defaultRetryAfterDelay = time.Second
)

// errMalformedReply marks a Lua reply that could not be decoded. It is
// treated like a Redis failure and degrades the limiter.
var errMalformedReply = errors.New("malformed rate limit reply")

// fixedWindowScript counts requests in a PX-expiring key. It returns
// {1, remaining} when allowed and {0, ttl_ms} when refused.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		redis.call('SET', key, 1, 'PX', window)
		return {1, limit - 1}
	end

	local count = tonumber(current)
	if count < limit then
		local newCount = redis.call('INCR', key)
		if redis.call('PTTL', key) == -1 then
			redis.call('PEXPIRE', key, window)
		end
		return {1, limit - newCount}
	end

	return {0, redis.call('PTTL', key)}
`)

func (l *Limiter) checkGlobalLimit(ctx context.Context, key string) error {
	if l.globalClient == nil || l.globalConfig.RequestsPerSecond <= 0 {
		return nil
	}
	limit := int64(l.globalConfig.RequestsPerSecond)

	result, err := fixedWindowScript.Run(ctx, l.globalClient,
		[]string{"arena:rl:" + key}, globalWindow.Milliseconds(), limit).Result()
	if err != nil {
		return fmt.Errorf("global rate limit check failed: %w", err)
	}

	allowed, retryMs, err := decodeWindowReply(result)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	return &llmerrors.RateLimitError{
		Provider:   "global",
		Limit:      int(limit),
		RetryAfter: retryAfterSeconds(retryMs),
	}
}

func decodeWindowReply(result any) (allowed bool, retryMs int64, err error) {
	res, ok := result.([]any)
	if !ok || len(res) < 2 {
		return false, 0, fmt.Errorf("%w: %v", errMalformedReply, result)
	}
	flag, ok := res[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("%w: allowed=%v", errMalformedReply, res[0])
	}
	if flag == 1 {
		return true, 0, nil
	}
	ttl, _ := res[1].(int64)
	return false, ttl, nil
}

// retryAfterSeconds converts a window TTL to whole seconds within
// [minRetryAfterSeconds, maxRetryAfterSeconds].
func retryAfterSeconds(ttlMs int64) int {
	if ttlMs <= 0 {
		ttlMs = defaultRetryAfterDelay.Milliseconds()
	}
	secs := int((ttlMs + 999) / 1000)
	return min(max(secs, minRetryAfterSeconds), maxRetryAfterSeconds)
}

// isRedisError reports infrastructure failures that should degrade the
// limiter rather than refuse the request.
func isRedisError(err error) bool {
	if err == nil {
		return false
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return true
	}
	if errors.Is(err, errMalformedReply) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
