// Package resilience runs endpoint calls behind circuit breakers and
// resolves fallbacks when they fail.
package resilience

import (
	"sync"
	"time"
)

// State is the state of a circuit breaker.
type State int

const (
	// Closed lets every call through.
	Closed State = iota
	// Open rejects calls until the cool-down elapses.
	Open
	// HalfOpen lets a limited number of trial calls through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"gte=0"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	MaxConcurrent    int           `yaml:"max_concurrent" json:"max_concurrent" validate:"gte=0"`
}

// DefaultBreakerConfig returns the defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxConcurrent:    1,
	}
}

// Breaker is a counting circuit breaker.
type Breaker struct {
	mu sync.RWMutex

	config BreakerConfig
	state  State

	failures         int
	successes        int
	lastFailureTime  time.Time
	halfOpenRequests int

	onStateChange func(from, to State)
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &Breaker{config: config, state: Closed}
}

// OnStateChange registers a callback invoked under the breaker lock.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Allow reports whether a call may proceed and reserves a half-open slot
// when it does.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true

	case Open:
		if time.Since(b.lastFailureTime) >= b.config.Timeout {
			b.transitionTo(HalfOpen)
			b.halfOpenRequests++
			return true
		}
		return false

	case HalfOpen:
		if b.halfOpenRequests < b.config.MaxConcurrent {
			b.halfOpenRequests++
			return true
		}
		return false
	}

	return false
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0

	case HalfOpen:
		b.successes++
		b.releaseSlot()
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(Closed)
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(Open)
		}

	case HalfOpen:
		b.releaseSlot()
		b.transitionTo(Open)
	}
}

// RecordIgnored releases a half-open slot without counting the outcome.
func (b *Breaker) RecordIgnored() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.releaseSlot()
	}
}

func (b *Breaker) releaseSlot() {
	b.halfOpenRequests--
	if b.halfOpenRequests < 0 {
		b.halfOpenRequests = 0
	}
}

func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}

	prev := b.state
	b.state = next

	switch next {
	case Closed:
		b.failures = 0
		b.successes = 0
		b.halfOpenRequests = 0
	case Open:
		b.successes = 0
		b.halfOpenRequests = 0
	case HalfOpen:
		b.successes = 0
	}

	if b.onStateChange != nil {
		b.onStateChange(prev, next)
	}
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.halfOpenRequests = 0
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() BreakerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BreakerStats{
		State:            b.state,
		Failures:         b.failures,
		Successes:        b.successes,
		LastFailureTime:  b.lastFailureTime,
		HalfOpenRequests: b.halfOpenRequests,
	}
}

// BreakerStats holds breaker statistics.
type BreakerStats struct {
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	LastFailureTime  time.Time `json:"last_failure_time"`
	HalfOpenRequests int       `json:"half_open_requests"`
}

// OpenError is returned when a breaker rejects a call.
type OpenError struct {
	Endpoint string
	State    State
}

func (e *OpenError) Error() string {
	if e.Endpoint == "" {
		return "circuit breaker is " + e.State.String()
	}
	return "circuit breaker for " + e.Endpoint + " is " + e.State.String()
}

// Breakers holds one breaker per endpoint identity.
type Breakers struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   BreakerConfig
	onChange func(endpoint string, from, to State)
}

// NewBreakers creates an empty breaker set.
func NewBreakers(config BreakerConfig) *Breakers {
	return &Breakers{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// OnStateChange registers a callback for every breaker created afterwards.
func (s *Breakers) OnStateChange(fn func(endpoint string, from, to State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Get returns the breaker for endpoint, creating it on first use.
func (s *Breakers) Get(endpoint string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[endpoint]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok = s.breakers[endpoint]; ok {
		return b
	}

	b = NewBreaker(s.config)
	if fn := s.onChange; fn != nil {
		b.OnStateChange(func(from, to State) { fn(endpoint, from, to) })
	}
	s.breakers[endpoint] = b
	return b
}

// AllStats returns statistics keyed by endpoint.
func (s *Breakers) AllStats() map[string]BreakerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]BreakerStats, len(s.breakers))
	for endpoint, b := range s.breakers {
		stats[endpoint] = b.Stats()
	}
	return stats
}

// Reset closes every breaker.
func (s *Breakers) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.breakers {
		b.Reset()
	}
}
