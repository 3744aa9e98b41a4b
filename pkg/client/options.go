package client

import (
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/PentesterFlow/OpenClient/internal/auth"
	"github.com/PentesterFlow/OpenClient/internal/cache"
	"github.com/PentesterFlow/OpenClient/internal/codec"
	"github.com/PentesterFlow/OpenClient/internal/handler"
	"github.com/PentesterFlow/OpenClient/internal/logger"
	"github.com/PentesterFlow/OpenClient/internal/metrics"
	"github.com/PentesterFlow/OpenClient/internal/request"
	"github.com/PentesterFlow/OpenClient/internal/transport"
	"github.com/PentesterFlow/OpenClient/pkg/shape"
)

// Option is a functional option for configuring the Client.
type Option func(*Client) error

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(config *Config) Option {
	return func(c *Client) error {
		c.config = config.Clone()
		return nil
	}
}

// WithBaseURL sets the URL relative endpoint paths resolve against.
func WithBaseURL(url string) Option {
	return func(c *Client) error {
		c.config.BaseURL = url
		return nil
	}
}

// WithTimeout sets the per-request timeout of the built-in backends.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.config.HTTP.Timeout = timeout
		return nil
	}
}

// WithBackend selects the built-in transport backend.
func WithBackend(backend string) Option {
	return func(c *Client) error {
		c.config.Backend = backend
		return nil
	}
}

// WithTransport replaces the built-in backend. Decorators configured on
// the client still wrap it.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) error {
		c.base = t
		return nil
	}
}

// WithMiddleware adds transport decorators outside the built-in ones.
func WithMiddleware(mws ...transport.Middleware) Option {
	return func(c *Client) error {
		c.middlewares = append(c.middlewares, mws...)
		return nil
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(name, value string) Option {
	return func(c *Client) error {
		if c.config.Headers == nil {
			c.config.Headers = make(map[string]string)
		}
		c.config.Headers[name] = value
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithCodec registers a body codec. Codecs registered later take precedence.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) error {
		c.codecs.Register(cd)
		return nil
	}
}

// WithAdapter registers a return-shape adapter.
func WithAdapter(a handler.Adapter) Option {
	return func(c *Client) error {
		c.registry.AddAdapter(a)
		return nil
	}
}

// WithFactory registers a base handler factory ahead of the built-in ones.
func WithFactory(f handler.Factory) Option {
	return func(c *Client) error {
		c.registry.AddFactory(f)
		return nil
	}
}

// WithFallback sets the instance fallbacks are resolved on.
func WithFallback(instance any) Option {
	return func(c *Client) error {
		c.fallback = instance
		return nil
	}
}

// WithResilience wraps every synchronous method in a command.
func WithResilience(enabled bool) Option {
	return func(c *Client) error {
		c.config.Resilience = enabled
		return nil
	}
}

// WithBreaker sets the circuit breaker thresholds.
func WithBreaker(failures, successes int, timeout time.Duration) Option {
	return func(c *Client) error {
		c.config.Breaker.FailureThreshold = failures
		c.config.Breaker.SuccessThreshold = successes
		c.config.Breaker.Timeout = timeout
		return nil
	}
}

// WithInterceptor adds a request interceptor. Interceptors run in order
// after the authentication interceptor.
func WithInterceptor(in request.Interceptor) Option {
	return func(c *Client) error {
		c.interceptors = append(c.interceptors, in)
		return nil
	}
}

// WithAuth sets the credentials.
func WithAuth(creds auth.Credentials) Option {
	return func(c *Client) error {
		c.config.Auth = creds
		return nil
	}
}

// WithBasicAuth configures HTTP basic authentication.
func WithBasicAuth(username, password string) Option {
	return WithAuth(auth.Credentials{
		Type:     auth.TypeBasic,
		Username: username,
		Password: password,
	})
}

// WithBearerToken configures a static bearer token.
func WithBearerToken(token string) Option {
	return WithAuth(auth.Credentials{
		Type:  auth.TypeBearer,
		Token: token,
	})
}

// WithAPIKey configures an API key sent in the named header.
func WithAPIKey(headerName, apiKey string) Option {
	return WithAuth(auth.Credentials{
		Type:    auth.TypeAPIKey,
		Headers: map[string]string{headerName: apiKey},
	})
}

// WithExecutor sets the executor futures run on.
func WithExecutor(exec shape.Executor) Option {
	return func(c *Client) error {
		c.exec = exec
		return nil
	}
}

// WithMaxConcurrency bounds concurrently running futures.
func WithMaxConcurrency(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			n = 0
		}
		c.config.MaxConcurrency = n
		return nil
	}
}

// WithMetrics records calls on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) error {
		c.metrics = m
		c.config.Metrics.Enabled = true
		return nil
	}
}

// WithTracing enables client spans on the given providers. Nil arguments
// use the global OpenTelemetry ones.
func WithTracing(tp trace.TracerProvider, propagator propagation.TextMapPropagator) Option {
	return func(c *Client) error {
		c.tracerProvider = tp
		c.propagator = propagator
		c.config.Tracing.Enabled = true
		return nil
	}
}

// WithCache caches GET responses in store for ttl.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(c *Client) error {
		c.store = store
		c.config.Cache.Enabled = true
		c.config.Cache.TTL = ttl
		return nil
	}
}

// WithRetry sets how often retryable failures are re-sent and which
// response statuses count as retryable.
func WithRetry(maxRetries int, statuses ...int) Option {
	return func(c *Client) error {
		c.config.Retry.MaxRetries = maxRetries
		if len(statuses) > 0 {
			c.config.Retry.Statuses = statuses
		}
		return nil
	}
}

// WithRateLimit sets the global request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		c.config.RateLimit.RequestsPerSecond = rps
		c.config.RateLimit.Burst = burst
		return nil
	}
}
