package recovery

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	// CircuitClosed is normal operation - calls pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures - calls go straight to the fallback.
	CircuitOpen
	// CircuitHalfOpen admits a single probe call after the cooldown.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *CircuitState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "closed":
		*s = CircuitClosed
	case "open":
		*s = CircuitOpen
	case "half-open":
		*s = CircuitHalfOpen
	default:
		return fmt.Errorf("unknown circuit state %q", b)
	}
	return nil
}

// BreakerState is a point-in-time snapshot of one operation's breaker.
type BreakerState struct {
	Key                 string       `json:"key"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailure         time.Time    `json:"last_failure,omitempty"`
}

// admission is the breaker's decision for an incoming call.
type admission int

const (
	admitClosed admission = iota
	admitProbe
	reject
)

// breaker holds the state machine for a single operation key.
// All methods take the breaker lock; the operation itself runs unlocked.
type breaker struct {
	key string

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool
}

func newBreaker(key string) *breaker {
	return &breaker{key: key, state: CircuitClosed}
}

// admit decides whether a call may run. An open breaker whose cooldown has
// elapsed moves to half-open and admits exactly one probe.
func (b *breaker) admit(now time.Time, cooldown time.Duration) admission {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return admitClosed
	case CircuitOpen:
		if now.Sub(b.lastFailure) < cooldown {
			return reject
		}
		b.state = CircuitHalfOpen
		b.probing = false
		fallthrough
	case CircuitHalfOpen:
		if b.probing {
			return reject
		}
		b.probing = true
		return admitProbe
	}
	return reject
}

// success closes the breaker and resets the failure counter.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
	b.probing = false
}

// failure records a failed attempt. The breaker opens when the counter
// reaches maxRetries, when the failure is critical, or when the attempt was
// a half-open probe. It reports whether the breaker is open afterwards.
func (b *breaker) failure(now time.Time, maxRetries int, critical bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if critical || b.state == CircuitHalfOpen || b.failures >= maxRetries {
		b.state = CircuitOpen
		b.lastFailure = now
		b.probing = false
		return true
	}
	return false
}

// isClosed reports whether the breaker currently admits retries.
func (b *breaker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == CircuitClosed
}

func (b *breaker) snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		Key:                 b.key,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
	}
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
	b.probing = false
	b.lastFailure = time.Time{}
}
