// Package ratelimit throttles outgoing calls globally and per remote host.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config describes the limits applied by a Limiter.
type Config struct {
	RequestsPerSecond    float64            `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	MinRequestsPerSecond float64            `yaml:"min_requests_per_second" json:"min_requests_per_second" validate:"gte=0,ltefield=RequestsPerSecond"`
	Burst                int                `yaml:"burst" json:"burst" validate:"gte=0"`
	HostDelay            time.Duration      `yaml:"host_delay" json:"host_delay"`
	Hosts                map[string]float64 `yaml:"hosts" json:"hosts"`
}

// Limiter combines a global token bucket with lazily created per-host buckets.
type Limiter struct {
	mu           sync.RWMutex
	limiter      *rate.Limiter
	perHost      map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	hostDelay    time.Duration
	lastRequest  map[string]time.Time
}

// NewLimiter creates a limiter. A zero rate means unlimited.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(limit, burst),
		perHost:      make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
		lastRequest:  make(map[string]time.Time),
	}
}

// FromConfig builds a limiter with the per-host overrides from cfg.
func FromConfig(cfg Config) *Limiter {
	l := NewLimiter(cfg.RequestsPerSecond, cfg.Burst)
	l.configure(cfg)
	return l
}

// AdaptiveFromConfig builds a limiter that moves between
// MinRequestsPerSecond and RequestsPerSecond.
func AdaptiveFromConfig(cfg Config) *AdaptiveLimiter {
	a := NewAdaptiveLimiter(cfg.MinRequestsPerSecond, cfg.RequestsPerSecond, cfg.Burst)
	a.configure(cfg)
	return a
}

func (l *Limiter) configure(cfg Config) {
	l.SetHostDelay(cfg.HostDelay)
	for host, rps := range cfg.Hosts {
		l.SetHostRate(host, rps, l.defaultBurst)
	}
}

// Wait blocks on the global bucket.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// WaitHost blocks until both the global and the host bucket admit a call.
func (l *Limiter) WaitHost(ctx context.Context, host string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	hostLimiter, exists := l.perHost[host]
	if !exists {
		hostLimiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.perHost[host] = hostLimiter
	}

	if l.hostDelay > 0 {
		if last, ok := l.lastRequest[host]; ok {
			if elapsed := time.Since(last); elapsed < l.hostDelay {
				l.mu.Unlock()
				timer := time.NewTimer(l.hostDelay - elapsed)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				}
				l.mu.Lock()
			}
		}
		l.lastRequest[host] = time.Now()
	}
	l.mu.Unlock()

	return hostLimiter.Wait(ctx)
}

// SetHostRate overrides the limit for one host.
func (l *Limiter) SetHostRate(host string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perHost[host] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// SetHostDelay sets the minimum spacing between calls to the same host.
func (l *Limiter) SetHostDelay(delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hostDelay = delay
}

// Allow reports whether a call may proceed now, without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// AllowHost is the non-blocking form of WaitHost.
func (l *Limiter) AllowHost(host string) bool {
	if !l.limiter.Allow() {
		return false
	}

	l.mu.RLock()
	hostLimiter, exists := l.perHost[host]
	l.mu.RUnlock()

	if !exists {
		return true
	}
	return hostLimiter.Allow()
}

// SetRate updates the global limit and the default for new hosts.
func (l *Limiter) SetRate(requestsPerSecond float64, burst int) {
	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
	l.limiter.SetBurst(burst)

	l.mu.Lock()
	l.defaultRate = rate.Limit(requestsPerSecond)
	l.defaultBurst = burst
	l.mu.Unlock()
}

// Stats returns a snapshot of the limiter settings.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LimiterStats{
		HostCount:    len(l.perHost),
		DefaultRate:  float64(l.defaultRate),
		DefaultBurst: l.defaultBurst,
		HostDelay:    l.hostDelay,
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	HostCount    int           `json:"host_count"`
	DefaultRate  float64       `json:"default_rate"`
	DefaultBurst int           `json:"default_burst"`
	HostDelay    time.Duration `json:"host_delay"`
}

// AdaptiveLimiter lowers the global rate when remote errors pile up and
// raises it again once calls succeed.
type AdaptiveLimiter struct {
	*Limiter
	mu           sync.Mutex
	minRate      float64
	maxRate      float64
	currentRate  float64
	errorCount   int
	successCount int
	windowSize   int
}

// NewAdaptiveLimiter creates an adaptive limiter starting at maxRate.
func NewAdaptiveLimiter(minRate, maxRate float64, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		Limiter:     NewLimiter(maxRate, burst),
		minRate:     minRate,
		maxRate:     maxRate,
		currentRate: maxRate,
		windowSize:  100,
	}
}

// SetWindow sets how many outcomes are observed before each adjustment.
func (a *AdaptiveLimiter) SetWindow(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > 0 {
		a.windowSize = n
	}
}

// RecordSuccess records a successful call.
func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.adjust()
}

// RecordError records a throttled or failed call.
func (a *AdaptiveLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.adjust()
}

func (a *AdaptiveLimiter) adjust() {
	total := a.successCount + a.errorCount
	if total < a.windowSize {
		return
	}

	errorRate := float64(a.errorCount) / float64(total)
	switch {
	case errorRate > 0.1:
		a.currentRate *= 0.8
		if a.currentRate < a.minRate {
			a.currentRate = a.minRate
		}
	case errorRate < 0.01:
		a.currentRate *= 1.1
		if a.currentRate > a.maxRate {
			a.currentRate = a.maxRate
		}
	}

	a.SetRate(a.currentRate, a.Stats().DefaultBurst)

	a.successCount = 0
	a.errorCount = 0
}

// CurrentRate returns the current global rate.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
