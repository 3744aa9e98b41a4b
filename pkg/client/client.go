// Package client invokes declaratively described HTTP endpoints. A Client
// turns each call of a contract.Method into an HTTP exchange and adapts the
// result into the method's declared return type.
package client

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/PentesterFlow/OpenClient/internal/auth"
	"github.com/PentesterFlow/OpenClient/internal/cache"
	"github.com/PentesterFlow/OpenClient/internal/codec"
	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/handler"
	"github.com/PentesterFlow/OpenClient/internal/logger"
	"github.com/PentesterFlow/OpenClient/internal/metrics"
	"github.com/PentesterFlow/OpenClient/internal/ratelimit"
	"github.com/PentesterFlow/OpenClient/internal/request"
	"github.com/PentesterFlow/OpenClient/internal/resilience"
	"github.com/PentesterFlow/OpenClient/internal/response"
	"github.com/PentesterFlow/OpenClient/internal/shutdown"
	"github.com/PentesterFlow/OpenClient/internal/tracing"
	"github.com/PentesterFlow/OpenClient/internal/transport"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
	"github.com/PentesterFlow/OpenClient/pkg/shape"
)

func init() {
	contract.RegisterType("response", reflect.TypeFor[*transport.Response]())
}

// Client invokes endpoint methods. It is safe for concurrent use.
type Client struct {
	config *Config
	log    *logger.Logger

	// Set by options, consumed by New
	base           transport.Transport
	middlewares    []transport.Middleware
	interceptors   []request.Interceptor
	tracerProvider trace.TracerProvider
	propagator     propagation.TextMapPropagator
	store          cache.Store
	fallback       any

	codecs    *codec.Registry
	registry  *handler.Registry
	chains    *handler.Chains
	executor  *request.Executor
	reader    *response.Reader
	runner    *resilience.Runner
	exec      shape.Executor
	metrics   *metrics.Collector
	auth      auth.Provider
	transport transport.Transport
	closer    *shutdown.Handler

	handlers sync.Map
}

type handlerKey struct {
	m *contract.Method
	t reflect.Type
}

// New creates a client.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		config:   DefaultConfig(),
		codecs:   codec.NewDefaultRegistry(),
		registry: handler.NewRegistry(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.log == nil {
		level, err := logger.ParseLevel(c.config.LogLevel)
		if err != nil || c.config.LogLevel == "" {
			level = logger.WarnLevel
		}
		c.log = logger.New(logger.Config{
			Level:     level,
			Pretty:    true,
			Component: "client",
		})
	}

	c.closer = shutdown.New(shutdown.Config{
		OnDone: func(elapsed time.Duration, errs []error) {
			if len(errs) > 0 {
				c.log.Warnf("client closed in %v with %d errors", elapsed, len(errs))
				return
			}
			c.log.Debugf("client closed in %v", elapsed)
		},
	})

	if err := c.assemble(); err != nil {
		c.closer.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) assemble() error {
	cfg := c.config

	if cfg.Metrics.Enabled && c.metrics == nil {
		c.metrics = metrics.New()
	}

	base := c.base
	if base == nil {
		switch cfg.Backend {
		case BackendFastHTTP:
			base = transport.NewFastHTTPTransport(cfg.HTTP)
		default:
			base = transport.NewHTTPTransport(cfg.HTTP)
		}
		if cl, ok := base.(transport.Closer); ok {
			c.closer.RegisterFunc("transport", cl.Close)
		}
	}

	mws := append([]transport.Middleware(nil), c.middlewares...)
	if cfg.Tracing.Enabled {
		mws = append(mws, tracing.Traced(tracing.Config{
			TracerProvider: c.tracerProvider,
			Propagator:     c.propagator,
			ServiceName:    cfg.Tracing.ServiceName,
		}))
	}
	if c.metrics != nil {
		mws = append(mws, metrics.Instrumented(c.metrics))
	}
	if cfg.Cache.Enabled {
		if c.store == nil {
			store, err := openStore(cfg.Cache)
			if err != nil {
				return err
			}
			c.store = store
			c.closer.RegisterCloser("cache", store)
		}
		mws = append(mws, transport.Cached(c.store, cfg.Cache.TTL, c.log))
	}
	if cfg.Retry.MaxRetries > 0 {
		mws = append(mws, transport.Retrying(cfg.Retry.Retrier(), cfg.Retry.Statuses...))
	}
	if cfg.RateLimit.RequestsPerSecond > 0 || len(cfg.RateLimit.Hosts) > 0 || cfg.RateLimit.HostDelay > 0 {
		var limiter transport.HostLimiter = ratelimit.FromConfig(cfg.RateLimit)
		if cfg.RateLimit.MinRequestsPerSecond > 0 {
			limiter = ratelimit.AdaptiveFromConfig(cfg.RateLimit)
		}
		mws = append(mws, transport.RateLimited(limiter))
	}
	c.transport = transport.Chain(base, mws...)

	provider, err := auth.NewProvider(cfg.Auth, base)
	if err != nil {
		return errors.NewConfigurationError("client config", err.Error())
	}
	c.auth = provider
	interceptors := c.interceptors
	if provider.Type() != auth.TypeNone {
		interceptors = append([]request.Interceptor{provider}, interceptors...)
	}

	header := make(http.Header, len(cfg.Headers))
	for name, value := range cfg.Headers {
		header.Set(name, value)
	}

	c.executor = request.New(request.Config{
		BaseURL:        cfg.BaseURL,
		DefaultHeaders: header,
		Codecs:         c.codecs,
		Transport:      c.transport,
		Interceptors:   interceptors,
		Logger:         c.log,
	})
	c.reader = response.NewReader(c.codecs)

	breakers := resilience.NewBreakers(cfg.Breaker)
	breakers.OnStateChange(func(endpoint string, from, to resilience.State) {
		c.log.WithEndpoint(endpoint).Infof("circuit %s -> %s", from, to)
		if to == resilience.Open && c.metrics != nil {
			c.metrics.RecordBreakerOpened()
		}
	})
	c.runner = resilience.NewRunner(breakers, c.log)

	if c.exec == nil {
		c.exec = shape.GoExecutor
		if cfg.MaxConcurrency > 0 {
			c.exec = shape.NewBoundedExecutor(cfg.MaxConcurrency)
		}
	}

	c.chains = handler.NewChains(c.registry)
	return nil
}

func openStore(cfg CacheConfig) (cache.Store, error) {
	if cfg.Path == "" {
		return cache.NewMemoryStore(), nil
	}
	store, err := cache.NewBoltStore(cfg.Path)
	if err != nil {
		return nil, errors.NewConfigurationError("client config", "open cache: "+err.Error())
	}
	return store, nil
}

// Invoke calls m with args and returns a value of m's declared return type.
// Methods with a callback parameter return immediately; the outcome is
// delivered to the callback.
func (c *Client) Invoke(ctx context.Context, m *contract.Method, args ...any) (any, error) {
	if m == nil {
		return nil, errors.NewConfigurationError("", "nil method")
	}
	if c.closer.Closed() {
		return nil, errors.NewConfigurationError(m.ID(), "client is closed")
	}

	h, err := c.handler(m)
	if err != nil {
		return nil, err
	}

	if cb, ok := m.Callback(); ok {
		return nil, c.invokeCallback(ctx, m, cb, h, args)
	}
	return h.Handle(ctx, args)
}

// handler resolves and caches the handler of m. A callback method is
// resolved for the value type its callback receives.
func (c *Client) handler(m *contract.Method) (handler.Handler, error) {
	returns := m.ReturnType
	cb, isCallback := m.Callback()
	if isCallback {
		if !contract.IsCallbackType(cb.Type) {
			return nil, errors.Configurationf(m.ID(), "callback parameter must be func(T, error), got %v", cb.Type)
		}
		returns = cb.Type.In(0)
	}

	key := handlerKey{m: m, t: returns}
	if h, ok := c.handlers.Load(key); ok {
		return h.(handler.Handler), nil
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	target := m
	if isCallback {
		shadow := *m
		shadow.ReturnType = returns
		target = &shadow
	}

	fallback, err := resilience.ResolveFallback(target, c.fallback)
	if err != nil {
		return nil, err
	}
	t := &handler.Target{
		Method:   target,
		Executor: c.executor,
		Reader:   c.reader,
		Runner:   c.runner,
		Fallback: c.counted(fallback),
		Exec:     c.exec,
	}

	h, err := c.chains.Get(t)
	if err != nil {
		return nil, err
	}
	if c.config.Resilience && !isCallback && !handler.IsDeferred(returns) {
		h = handler.Resilient(h, t)
	}

	actual, _ := c.handlers.LoadOrStore(key, h)
	return actual.(handler.Handler), nil
}

func (c *Client) counted(fb contract.FallbackFunc) contract.FallbackFunc {
	if fb == nil || c.metrics == nil {
		return fb
	}
	return func(ctx context.Context, args []any, cause error) (any, error) {
		c.metrics.RecordFallback()
		return fb(ctx, args, cause)
	}
}

var errorType = reflect.TypeFor[error]()

func (c *Client) invokeCallback(ctx context.Context, m *contract.Method, cb contract.Parameter, h handler.Handler, args []any) error {
	if len(args) != len(m.Parameters) {
		return errors.Configurationf(m.ID(), "expected %d arguments, got %d", len(m.Parameters), len(args))
	}
	fn := reflect.ValueOf(args[cb.Position])
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return errors.Configurationf(m.ID(), "callback argument at position %d is not a function", cb.Position)
	}
	if !fn.Type().AssignableTo(cb.Type) {
		return errors.Configurationf(m.ID(), "callback argument is %v, want %v", fn.Type(), cb.Type)
	}

	valueType := cb.Type.In(0)
	log := c.log.WithEndpoint(m.ID())

	c.exec.Execute(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("callback panicked: %v", r)
			}
		}()

		v, err := h.Handle(ctx, args)

		value := reflect.Zero(valueType)
		if err == nil && v != nil {
			rv := reflect.ValueOf(v)
			if !rv.Type().AssignableTo(valueType) {
				err = errors.Configurationf(m.ID(), "handler produced %v, callback wants %v", rv.Type(), valueType)
			} else {
				value = rv
			}
		}
		errValue := reflect.Zero(errorType)
		if err != nil {
			errValue = reflect.ValueOf(&err).Elem()
		}
		fn.Call([]reflect.Value{value, errValue})
	})
	return nil
}

// Config returns a copy of the client configuration.
func (c *Client) Config() *Config {
	return c.config.Clone()
}

// Metrics returns the metrics collector, or nil when metrics are disabled.
func (c *Client) Metrics() *metrics.Collector {
	return c.metrics
}

// MetricsHandler serves the client's metrics in the Prometheus text format.
func (c *Client) MetricsHandler() http.Handler {
	if c.metrics == nil {
		return http.NotFoundHandler()
	}
	return metrics.Handler(c.metrics, c.config.Metrics.Namespace)
}

// Breakers returns the per-endpoint circuit breakers.
func (c *Client) Breakers() *resilience.Breakers {
	return c.runner.Breakers()
}

// Authenticated reports whether the configured credentials are usable.
func (c *Client) Authenticated() bool {
	return c.auth.IsAuthenticated()
}

// Close releases the transport and the cache store the client opened.
// Calls after Close fail with a configuration error.
func (c *Client) Close() error {
	return c.closer.Close()
}
