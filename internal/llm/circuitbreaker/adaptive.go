package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	minRequestsForAdjustment  = 10
	highErrorRateThreshold    = 0.5
	mediumErrorRateThreshold  = 0.3
	mediumThresholdMultiplier = 0.75
	adaptiveWindow            = time.Minute
)

// adaptiveThresholds lowers the failure threshold while the error rate over
// the last window is high, so a degrading model trips sooner.
type adaptiveThresholds struct {
	mu               sync.Mutex // guards window resets
	base             int
	currentThreshold atomic.Int32
	totalRequests    atomic.Int64
	totalFailures    atomic.Int64
	windowStart      atomic.Int64
}

func newAdaptiveThresholds(base int) *adaptiveThresholds {
	at := &adaptiveThresholds{base: base}
	at.currentThreshold.Store(int32(base))
	at.windowStart.Store(time.Now().UnixNano())
	return at
}

func (at *adaptiveThresholds) recordRequest(success bool) {
	now := time.Now().UnixNano()
	if now-at.windowStart.Load() > int64(adaptiveWindow) {
		at.mu.Lock()
		if now-at.windowStart.Load() > int64(adaptiveWindow) {
			// Zero counters before publishing the new window start.
			at.totalRequests.Store(0)
			at.totalFailures.Store(0)
			at.windowStart.Store(now)
		}
		at.mu.Unlock()
	}

	at.totalRequests.Add(1)
	if !success {
		at.totalFailures.Add(1)
	}
	at.adjust()
}

func (at *adaptiveThresholds) adjust() {
	total := at.totalRequests.Load()
	if total < minRequestsForAdjustment {
		return
	}
	rate := float64(at.totalFailures.Load()) / float64(total)

	threshold := at.base
	switch {
	case rate > highErrorRateThreshold:
		threshold = at.base / 2
	case rate > mediumErrorRateThreshold:
		threshold = int(float64(at.base) * mediumThresholdMultiplier)
	}
	threshold = max(threshold, 1)
	at.currentThreshold.Store(int32(threshold))
}

func (at *adaptiveThresholds) getThreshold() int { return int(at.currentThreshold.Load()) }
