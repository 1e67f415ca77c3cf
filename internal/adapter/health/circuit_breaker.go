package health

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

const (
	defaultMaxFails    = 3
	defaultFailTimeout = 10 * time.Second
)

type breakerState struct {
	failures    atomic.Int64
	windowStart atomic.Int64 // unix nanos
	openUntil   atomic.Int64 // unix nanos; 0 when closed
}

// CircuitBreaker is the passive side of max_fails/fail_timeout: relay
// failures within one window open the breaker for that peer, and the
// retry loop skips open peers without waiting for the active prober.
type CircuitBreaker struct {
	peers       *xsync.Map[string, *breakerState]
	maxFails    int64
	failTimeout time.Duration
}

func NewCircuitBreaker(maxFails int, failTimeout time.Duration) *CircuitBreaker {
	if maxFails <= 0 {
		maxFails = defaultMaxFails
	}
	if failTimeout <= 0 {
		failTimeout = defaultFailTimeout
	}
	return &CircuitBreaker{
		peers:       xsync.NewMap[string, *breakerState](),
		maxFails:    int64(maxFails),
		failTimeout: failTimeout,
	}
}

func (cb *CircuitBreaker) stateFor(url string) *breakerState {
	st, _ := cb.peers.LoadOrCompute(url, func() (*breakerState, bool) {
		return &breakerState{}, false
	})
	return st
}

// RecordFailure counts one relay failure; crossing maxFails inside the
// window opens the breaker for failTimeout.
func (cb *CircuitBreaker) RecordFailure(url string) {
	st := cb.stateFor(url)
	now := time.Now().UnixNano()

	start := st.windowStart.Load()
	if start == 0 || now-start > int64(cb.failTimeout) {
		st.windowStart.Store(now)
		st.failures.Store(1)
		if cb.maxFails <= 1 {
			st.openUntil.Store(now + int64(cb.failTimeout))
		}
		return
	}
	if st.failures.Add(1) >= cb.maxFails {
		st.openUntil.Store(now + int64(cb.failTimeout))
	}
}

// RecordSuccess closes the breaker and resets the failure window.
func (cb *CircuitBreaker) RecordSuccess(url string) {
	st := cb.stateFor(url)
	st.failures.Store(0)
	st.windowStart.Store(0)
	st.openUntil.Store(0)
}

// IsOpen reports whether the peer is currently excluded from selection.
func (cb *CircuitBreaker) IsOpen(url string) bool {
	st, ok := cb.peers.Load(url)
	if !ok {
		return false
	}
	until := st.openUntil.Load()
	if until == 0 {
		return false
	}
	if time.Now().UnixNano() >= until {
		// window expired: half-open, allow the next attempt through
		st.openUntil.Store(0)
		st.failures.Store(0)
		st.windowStart.Store(0)
		return false
	}
	return true
}

// Forget drops breaker state for a peer removed from configuration.
func (cb *CircuitBreaker) Forget(url string) {
	cb.peers.Delete(url)
}
