package errors

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig configures retry behavior of transport decorators.
type RetryConfig struct {
	MaxRetries       int               // Maximum number of retries (0 = no retries)
	InitialDelay     time.Duration     // Delay before the first retry
	MaxDelay         time.Duration     // Upper bound for any delay
	Multiplier       float64           // Exponential backoff multiplier
	Jitter           float64           // Random jitter factor (0-1)
	RetryableReasons []TransportReason // Transport reasons that should be retried
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryableReasons: []TransportReason{
			ReasonNetwork,
			ReasonTimeout,
			ReasonRateLimited,
		},
	}
}

// Retrier implements retry logic with exponential backoff.
type Retrier struct {
	config RetryConfig
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewRetrier creates a new retrier.
func NewRetrier(config RetryConfig) *Retrier {
	if config.Multiplier <= 0 {
		config.Multiplier = 1
	}
	return &Retrier{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewDefaultRetrier creates a retrier with default configuration.
func NewDefaultRetrier() *Retrier {
	return NewRetrier(DefaultRetryConfig())
}

// RetryFunc is a function that can be retried.
type RetryFunc func(ctx context.Context) error

// RetryResult holds the result of a retry operation.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
	Success   bool
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// retry budget is exhausted.
func (r *Retrier) Do(ctx context.Context, url string, fn RetryFunc) *RetryResult {
	result := &RetryResult{}
	start := time.Now()

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result.Attempts++

		err := fn(ctx)
		if err == nil {
			result.Success = true
			result.Duration = time.Since(start)
			return result
		}
		result.LastError = err

		if ctx.Err() != nil {
			result.LastError = NewCancelledError(url, ctx.Err())
			break
		}

		if attempt >= r.config.MaxRetries || !r.shouldRetry(err) {
			break
		}

		delay := r.jittered(BackoffDuration(attempt+1, r.config.InitialDelay, r.config.MaxDelay, r.config.Multiplier))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = NewCancelledError(url, ctx.Err())
			result.Duration = time.Since(start)
			return result
		case <-timer.C:
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Retrier) shouldRetry(err error) bool {
	if GetKind(err) == Transport {
		reason := GetReason(err)
		for _, rr := range r.config.RetryableReasons {
			if reason == rr {
				return true
			}
		}
		return false
	}
	return IsRetryable(err)
}

func (r *Retrier) jittered(base time.Duration) time.Duration {
	if r.config.Jitter <= 0 {
		return base
	}

	r.mu.Lock()
	f := r.rng.Float64()
	r.mu.Unlock()

	jitter := r.config.Jitter * float64(base)
	return time.Duration(float64(base) + f*2*jitter - jitter)
}

// DoWithResult executes a function that returns a value and error.
func DoWithResult[T any](ctx context.Context, r *Retrier, url string, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	var result T
	retryResult := r.Do(ctx, url, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, retryResult
}

// BackoffDuration calculates the backoff duration for a given attempt.
func BackoffDuration(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}

	return time.Duration(delay)
}
