// Package circuitbreaker fails generation calls fast while a provider model
// keeps failing. Each provider/model pair has its own breaker so a sick model
// on one track does not block the other track.
package circuitbreaker

import (
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"
)

// jitterDivisor caps open-timeout jitter at a tenth of the timeout.
const jitterDivisor = 10

// CircuitState is the state of one breaker.
type CircuitState int32

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows a limited number of probe requests.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls breaker thresholds.
type Config struct {
	FailureThreshold   int           // consecutive failures that open the circuit
	SuccessThreshold   int           // probe successes that close it again
	OpenTimeout        time.Duration // time spent open before probing
	HalfOpenProbes     int           // concurrent probes allowed while half-open
	AdaptiveThresholds bool          // lower the failure threshold under high error rates
}

// transitionFunc observes state changes.
type transitionFunc func(from, to CircuitState)

// circuitBreaker is a lock-free three-state breaker.
type circuitBreaker struct {
	state           atomic.Int32
	failures        atomic.Int32
	successes       atomic.Int32
	lastFailureTime atomic.Int64
	halfOpenProbes  atomic.Int32

	failureThreshold  int
	successThreshold  int
	openTimeout       time.Duration
	maxHalfOpenProbes int

	adaptive     *adaptiveThresholds
	onTransition transitionFunc
	logger       *slog.Logger
}

func newCircuitBreaker(cfg Config, logger *slog.Logger, onTransition transitionFunc) *circuitBreaker {
	cb := &circuitBreaker{
		failureThreshold:  cfg.FailureThreshold,
		successThreshold:  cfg.SuccessThreshold,
		openTimeout:       cfg.OpenTimeout,
		maxHalfOpenProbes: cfg.HalfOpenProbes,
		onTransition:      onTransition,
		logger:            logger,
	}
	if cfg.AdaptiveThresholds {
		cb.adaptive = newAdaptiveThresholds(cfg.FailureThreshold)
	}
	cb.state.Store(int32(StateClosed))
	return cb
}

func (cb *circuitBreaker) currentState() CircuitState { return CircuitState(cb.state.Load()) }

// getJitter returns a random duration up to a tenth of the open timeout.
func (cb *circuitBreaker) getJitter() time.Duration {
	jit := cb.openTimeout / jitterDivisor
	if jit <= 0 {
		return 0
	}
	//nolint:gosec // Using weak random for jitter is acceptable
	return time.Duration(rand.Int63n(int64(jit)))
}

// remaining reports how long the circuit stays open, or zero when a probe
// may be attempted now.
func (cb *circuitBreaker) remaining() time.Duration {
	last := time.Unix(0, cb.lastFailureTime.Load())
	left := cb.openTimeout + cb.getJitter() - time.Since(last)
	if left < 0 {
		return 0
	}
	return left
}

// allow decides whether a call may proceed. When it may, release must be
// called once the call completes.
func (cb *circuitBreaker) allow() (release func(), wait time.Duration, ok bool) {
	noop := func() {}
	switch cb.currentState() {
	case StateClosed:
		return noop, 0, true
	case StateOpen:
		if left := cb.remaining(); left > 0 {
			return noop, left, false
		}
		cb.transition(StateOpen, StateHalfOpen)
	}
	return cb.acquireProbe()
}

// acquireProbe claims a half-open probe slot.
func (cb *circuitBreaker) acquireProbe() (func(), time.Duration, bool) {
	for {
		current := cb.halfOpenProbes.Load()
		if int(current) >= cb.maxHalfOpenProbes {
			return func() {}, 0, false
		}
		if cb.halfOpenProbes.CompareAndSwap(current, current+1) {
			return func() {
				for {
					cur := cb.halfOpenProbes.Load()
					if cur == 0 || cb.halfOpenProbes.CompareAndSwap(cur, cur-1) {
						return
					}
				}
			}, 0, true
		}
	}
}

func (cb *circuitBreaker) recordSuccess() {
	if cb.adaptive != nil {
		cb.adaptive.recordRequest(true)
	}
	switch cb.currentState() {
	case StateClosed:
		cb.failures.Store(0)
	case StateHalfOpen:
		if int(cb.successes.Add(1)) >= cb.successThreshold {
			cb.transition(StateHalfOpen, StateClosed)
		}
	case StateOpen:
		// A call admitted before the circuit opened finished late.
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.lastFailureTime.Store(time.Now().UnixNano())
	if cb.adaptive != nil {
		cb.adaptive.recordRequest(false)
	}
	switch cb.currentState() {
	case StateClosed:
		threshold := cb.failureThreshold
		if cb.adaptive != nil {
			threshold = cb.adaptive.getThreshold()
		}
		if int(cb.failures.Add(1)) >= threshold {
			cb.transition(StateClosed, StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateHalfOpen, StateOpen)
	case StateOpen:
	}
}

// transition moves from -> to when the breaker is still in from. Counters
// reset on every successful transition.
func (cb *circuitBreaker) transition(from, to CircuitState) bool {
	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.halfOpenProbes.Store(0)

	cb.logger.Info("circuit breaker state transition", "from", from.String(), "to", to.String())
	if cb.onTransition != nil {
		cb.onTransition(from, to)
	}
	return true
}
