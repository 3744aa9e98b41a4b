package transport

import (
	"context"
	"net/http"
	"net/url"

	"github.com/PentesterFlow/OpenClient/internal/errors"
)

// HostLimiter admits calls per remote host.
type HostLimiter interface {
	WaitHost(ctx context.Context, host string) error
}

// feedback is implemented by limiters that adapt to remote pressure.
type feedback interface {
	RecordSuccess()
	RecordError()
}

// RateLimited waits on limiter before every call. Limiters that accept
// feedback are told about throttling statuses and transport failures.
func RateLimited(limiter HostLimiter) Middleware {
	fb, adaptive := limiter.(feedback)

	return func(next Transport) Transport {
		return Func(func(ctx context.Context, req *Request) (*Response, error) {
			host := req.URL
			if u, err := url.Parse(req.URL); err == nil && u.Host != "" {
				host = u.Host
			}

			if err := limiter.WaitHost(ctx, host); err != nil {
				if ctx.Err() != nil {
					return nil, errors.Categorize(ctx.Err(), req.URL)
				}
				return nil, errors.NewTransportError(req.URL, errors.ReasonRateLimited, "rate limiter rejected call", err)
			}

			resp, err := next.Do(ctx, req)
			if adaptive {
				if err != nil || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
					fb.RecordError()
				} else {
					fb.RecordSuccess()
				}
			}
			return resp, err
		})
	}
}
