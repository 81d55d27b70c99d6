package cache

import (
	"sync"
	"time"
)

// CircuitState represents the state of the cache circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // remote calls flow normally
	StateOpen                         // remote calls are skipped
	StateHalfOpen                     // a single trial call probes recovery
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 60 * time.Second
)

// BreakerSettings configures the breaker thresholds.
type BreakerSettings struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// BreakerSnapshot is a consistent copy of breaker state.
type BreakerSnapshot struct {
	State           CircuitState
	FailureCount    int
	LastFailureTime time.Time
}

// Breaker guards the remote cache. After FailureThreshold consecutive failures
// the circuit opens; once RecoveryTimeout has elapsed a single trial call is
// admitted in half-open state, and its outcome closes or re-opens the circuit.
//
// The mutex only protects state transitions. Callers perform I/O between
// Allow and RecordSuccess/RecordFailure without holding it.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	state           CircuitState
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool

	now          func() time.Time
	onTransition func(from, to CircuitState)
}

// BreakerOption customises a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides the time source.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithTransitionHook registers a callback invoked (under the breaker lock) on every state change.
func WithTransitionHook(fn func(from, to CircuitState)) BreakerOption {
	return func(b *Breaker) {
		b.onTransition = fn
	}
}

// NewBreaker constructs a closed breaker. Zero settings fall back to 5 failures and 60s recovery.
func NewBreaker(settings BreakerSettings, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		failureThreshold: settings.FailureThreshold,
		recoveryTimeout:  settings.RecoveryTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
	if b.failureThreshold <= 0 {
		b.failureThreshold = defaultFailureThreshold
	}
	if b.recoveryTimeout <= 0 {
		b.recoveryTimeout = defaultRecoveryTimeout
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether the caller may attempt a remote call. In half-open state
// only the first caller is admitted; it must report its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) < b.recoveryTimeout {
			return false
		}
		b.setState(StateHalfOpen)
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.trialInFlight = false
	b.setState(StateClosed)
}

// RecordFailure counts a failed remote call and opens the circuit when warranted.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.lastFailureTime = b.now()
		b.setState(StateOpen)
	case StateClosed:
		b.lastFailureTime = b.now()
		if b.failureCount >= b.failureThreshold {
			b.setState(StateOpen)
		}
	case StateOpen:
		// a call admitted before the circuit opened; the recovery timer keeps running
	}
}

// Release returns an admitted trial slot without recording an outcome, e.g.
// when the caller abandoned the request before the remote answered.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// State returns the current state of the circuit.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns state, failure count and the last failure time together.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}

func (b *Breaker) setState(next CircuitState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	if b.onTransition != nil {
		b.onTransition(prev, next)
	}
}
