// Package metrics collects client call statistics and exports them to
// Prometheus.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucketBounds are the upper bounds, in milliseconds, of the response time
// histogram. The last bucket holds everything slower.
var bucketBounds = [...]int64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

const numBuckets = len(bucketBounds) + 1

// Collector collects and aggregates metrics.
type Collector struct {
	// Counters
	requestsTotal  atomic.Int64
	errorsTotal    atomic.Int64
	bytesTotal     atomic.Int64
	cacheHits      atomic.Int64
	breakerOpened  atomic.Int64
	fallbacksTotal atomic.Int64

	// Rate tracking
	requestsInWindow atomic.Int64
	errorsInWindow   atomic.Int64
	windowStart      atomic.Int64

	// Response time tracking
	responseTimesSum atomic.Int64
	responseTimesNum atomic.Int64

	inFlight atomic.Int64

	responseTimeBuckets [numBuckets]atomic.Int64

	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	endpointCounts map[string]*atomic.Int64
	endpointMu     sync.RWMutex

	startTime atomic.Int64
}

// New creates a new metrics collector.
func New() *Collector {
	c := &Collector{
		errorCounts:    make(map[string]*atomic.Int64),
		statusCodes:    make(map[int]*atomic.Int64),
		endpointCounts: make(map[string]*atomic.Int64),
	}
	now := time.Now().UnixNano()
	c.windowStart.Store(now)
	c.startTime.Store(now)
	return c
}

// RecordRequest records a request sent for endpoint.
func (c *Collector) RecordRequest(endpoint string) {
	c.requestsTotal.Add(1)
	c.requestsInWindow.Add(1)
	if endpoint != "" {
		increment(&c.endpointMu, c.endpointCounts, endpoint)
	}
}

// RecordError records a failed request by error kind.
func (c *Collector) RecordError(kind string) {
	c.errorsTotal.Add(1)
	c.errorsInWindow.Add(1)
	increment(&c.errorMu, c.errorCounts, kind)
}

// RecordResponseTime records a response time.
func (c *Collector) RecordResponseTime(d time.Duration) {
	ms := d.Milliseconds()
	c.responseTimesSum.Add(ms)
	c.responseTimesNum.Add(1)
	c.responseTimeBuckets[bucket(ms)].Add(1)
}

func bucket(ms int64) int {
	for i, bound := range bucketBounds {
		if ms < bound {
			return i
		}
	}
	return len(bucketBounds)
}

// RecordStatusCode records an HTTP status code.
func (c *Collector) RecordStatusCode(code int) {
	increment(&c.statusMu, c.statusCodes, code)
}

// RecordBytes records received body bytes.
func (c *Collector) RecordBytes(n int64) {
	if n > 0 {
		c.bytesTotal.Add(n)
	}
}

// RecordCacheHit records a response served from the cache.
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Add(1)
}

// RecordBreakerOpened records a circuit breaker opening.
func (c *Collector) RecordBreakerOpened() {
	c.breakerOpened.Add(1)
}

// RecordFallback records a call answered by a fallback.
func (c *Collector) RecordFallback() {
	c.fallbacksTotal.Add(1)
}

// InFlight adjusts the number of outstanding requests.
func (c *Collector) InFlight(delta int64) {
	c.inFlight.Add(delta)
}

func increment[K comparable](mu *sync.RWMutex, m map[K]*atomic.Int64, key K) {
	mu.RLock()
	counter := m[key]
	mu.RUnlock()
	if counter == nil {
		mu.Lock()
		if counter = m[key]; counter == nil {
			counter = &atomic.Int64{}
			m[key] = counter
		}
		mu.Unlock()
	}
	counter.Add(1)
}

// GetRequestsPerSecond returns the current requests per second rate.
func (c *Collector) GetRequestsPerSecond() float64 {
	return c.getRatePerSecond(&c.requestsInWindow)
}

// GetErrorsPerSecond returns the current errors per second rate.
func (c *Collector) GetErrorsPerSecond() float64 {
	return c.getRatePerSecond(&c.errorsInWindow)
}

// getRatePerSecond calculates rate per second with window rotation.
func (c *Collector) getRatePerSecond(counter *atomic.Int64) float64 {
	windowDuration := 10 * time.Second
	now := time.Now().UnixNano()
	windowStart := c.windowStart.Load()

	elapsed := time.Duration(now - windowStart)
	if elapsed >= windowDuration {
		if c.windowStart.CompareAndSwap(windowStart, now) {
			c.requestsInWindow.Store(0)
			c.errorsInWindow.Store(0)
		}
		return 0
	}
	if elapsed <= 0 {
		return 0
	}

	return float64(counter.Load()) / elapsed.Seconds()
}

// GetAverageResponseTime returns the average response time.
func (c *Collector) GetAverageResponseTime() time.Duration {
	sum := c.responseTimesSum.Load()
	num := c.responseTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(time.Unix(0, c.startTime.Load())),
		RequestsTotal:       c.requestsTotal.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		CacheHits:           c.cacheHits.Load(),
		BreakerOpened:       c.breakerOpened.Load(),
		FallbacksTotal:      c.fallbacksTotal.Load(),
		InFlight:            c.inFlight.Load(),
		RequestsPerSecond:   c.GetRequestsPerSecond(),
		ErrorsPerSecond:     c.GetErrorsPerSecond(),
		AverageResponseTime: c.GetAverageResponseTime(),
		ResponseTimeSumMs:   c.responseTimesSum.Load(),
		ErrorCounts:         make(map[string]int64),
		StatusCodes:         make(map[int]int64),
		EndpointCounts:      make(map[string]int64),
		ResponseTimeHist:    make([]int64, numBuckets),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	c.endpointMu.RLock()
	for k, v := range c.endpointCounts {
		s.EndpointCounts[k] = v.Load()
	}
	c.endpointMu.RUnlock()

	for i := range s.ResponseTimeHist {
		s.ResponseTimeHist[i] = c.responseTimeBuckets[i].Load()
	}

	return s
}

// Reset resets all metrics.
func (c *Collector) Reset() {
	c.requestsTotal.Store(0)
	c.errorsTotal.Store(0)
	c.bytesTotal.Store(0)
	c.cacheHits.Store(0)
	c.breakerOpened.Store(0)
	c.fallbacksTotal.Store(0)
	c.requestsInWindow.Store(0)
	c.errorsInWindow.Store(0)
	c.responseTimesSum.Store(0)
	c.responseTimesNum.Store(0)

	for i := range c.responseTimeBuckets {
		c.responseTimeBuckets[i].Store(0)
	}

	c.errorMu.Lock()
	c.errorCounts = make(map[string]*atomic.Int64)
	c.errorMu.Unlock()

	c.statusMu.Lock()
	c.statusCodes = make(map[int]*atomic.Int64)
	c.statusMu.Unlock()

	c.endpointMu.Lock()
	c.endpointCounts = make(map[string]*atomic.Int64)
	c.endpointMu.Unlock()

	now := time.Now().UnixNano()
	c.windowStart.Store(now)
	c.startTime.Store(now)
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	RequestsTotal       int64            `json:"requests_total"`
	ErrorsTotal         int64            `json:"errors_total"`
	BytesTotal          int64            `json:"bytes_total"`
	CacheHits           int64            `json:"cache_hits"`
	BreakerOpened       int64            `json:"breaker_opened"`
	FallbacksTotal      int64            `json:"fallbacks_total"`
	InFlight            int64            `json:"in_flight"`
	RequestsPerSecond   float64          `json:"requests_per_second"`
	ErrorsPerSecond     float64          `json:"errors_per_second"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	ResponseTimeSumMs   int64            `json:"response_time_sum_ms"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	StatusCodes         map[int]int64    `json:"status_codes"`
	EndpointCounts      map[string]int64 `json:"endpoint_counts"`
	ResponseTimeHist    []int64          `json:"response_time_histogram"`
}

// ErrorRate returns the error rate (errors/requests).
func (s *Snapshot) ErrorRate() float64 {
	if s.RequestsTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.RequestsTotal)
}
