// Package shutdown releases resources held by a client in reverse order of
// registration and bounds how long the release may take.
package shutdown

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Hook releases one resource.
type Hook func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	OnDone  func(elapsed time.Duration, errs []error)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second}
}

type namedHook struct {
	name string
	hook Hook
}

// Handler runs registered hooks once, last registered first.
type Handler struct {
	mu      sync.Mutex
	hooks   []namedHook
	closed  atomic.Bool
	done    chan struct{}
	err     error
	timeout time.Duration
	onDone  func(elapsed time.Duration, errs []error)
}

// New creates a handler.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		onDone:  cfg.OnDone,
	}
}

// Register adds a hook. Hooks registered after Close are run immediately.
func (h *Handler) Register(name string, hook Hook) {
	h.mu.Lock()
	if !h.closed.Load() {
		h.hooks = append(h.hooks, namedHook{name: name, hook: hook})
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	run(ctx, namedHook{name: name, hook: hook})
}

// RegisterCloser registers c.Close.
func (h *Handler) RegisterCloser(name string, c io.Closer) {
	h.Register(name, func(context.Context) error { return c.Close() })
}

// RegisterFunc registers a cleanup that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Closed reports whether Close has started.
func (h *Handler) Closed() bool {
	return h.closed.Load()
}

// Done is closed once every hook has returned or timed out.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Close runs the hooks in reverse order and returns their joined errors.
// Later calls wait for the first to finish and return the same result.
func (h *Handler) Close() error {
	h.mu.Lock()
	if !h.closed.CompareAndSwap(false, true) {
		h.mu.Unlock()
		<-h.done
		return h.err
	}
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := run(ctx, hooks[i]); err != nil {
			errs = append(errs, err)
		}
	}

	if h.onDone != nil {
		h.onDone(time.Since(start), errs)
	}
	h.err = stderrors.Join(errs...)
	close(h.done)
	return h.err
}

func run(ctx context.Context, nh namedHook) error {
	done := make(chan error, 1)
	go func() {
		done <- nh.hook(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{Hook: nh.name}
	}
}

// TimeoutError is returned when a hook outlives the shutdown timeout.
type TimeoutError struct {
	Hook string
}

func (e *TimeoutError) Error() string {
	return "shutdown hook timed out: " + e.Hook
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
