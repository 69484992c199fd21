package llmgateway

import (
	"sync"
	"time"
)

// circuitBreaker implements the classic closed/open/half-open state machine,
// carried over from the pooled ML client this gateway's resilience pattern
// is modeled on.
type circuitBreaker struct {
	mu            sync.Mutex
	state         string // closed, open, half-open
	failures      int
	maxFailures   int
	lastFailure   time.Time
	resetTimeout  time.Duration
	halfOpenLimit int
	halfOpenCount int
}

func newCircuitBreaker(maxFailures int, resetTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		state:         "closed",
		maxFailures:   maxFailures,
		resetTimeout:  resetTimeout,
		halfOpenLimit: 1,
	}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case "open":
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "half-open"
			cb.halfOpenCount = 1
		} else {
			return false
		}
	case "half-open":
		if cb.halfOpenCount >= cb.halfOpenLimit {
			return false
		}
		cb.halfOpenCount++
	}

	return true
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = "closed"
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.state = "open"
	}
}
