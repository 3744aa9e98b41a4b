package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/transport"
)

// Instrumented records every request passing through the transport.
func Instrumented(c *Collector) transport.Middleware {
	return func(next transport.Transport) transport.Transport {
		return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			c.RecordRequest(req.Endpoint)
			c.InFlight(1)
			defer c.InFlight(-1)

			start := time.Now()
			resp, err := next.Do(ctx, req)
			c.RecordResponseTime(time.Since(start))

			if err != nil {
				c.RecordError(errors.GetKind(errors.Categorize(err, req.URL)).String())
				return nil, err
			}

			c.RecordStatusCode(resp.StatusCode)
			if resp.StatusCode >= 400 {
				c.RecordError("remote")
			}
			if resp.Header.Get("X-Cache") == "HIT" {
				c.RecordCacheHit()
			}
			if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
				c.RecordBytes(n)
			}
			return resp, nil
		})
	}
}
