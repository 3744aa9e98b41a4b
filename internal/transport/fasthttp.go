package transport

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/PentesterFlow/OpenClient/internal/errors"
)

// FastHTTPTransport is a backend over valyala/fasthttp. Bodies are fully
// buffered, so it suits small and medium payloads.
type FastHTTPTransport struct {
	client    *fasthttp.Client
	timeout   time.Duration
	userAgent string
}

// NewFastHTTPTransport creates a fasthttp backend from the shared HTTP config.
func NewFastHTTPTransport(config HTTPConfig) *FastHTTPTransport {
	return &FastHTTPTransport{
		client: &fasthttp.Client{
			Name:                     config.UserAgent,
			MaxConnsPerHost:          config.MaxConnsPerHost,
			MaxIdleConnDuration:      90 * time.Second,
			ReadTimeout:              config.Timeout,
			WriteTimeout:             config.Timeout,
			NoDefaultUserAgentHeader: config.UserAgent == "",
			TLSConfig: &tls.Config{
				InsecureSkipVerify: config.SkipTLSVerify,
			},
		},
		timeout:   config.Timeout,
		userAgent: config.UserAgent,
	}
}

// Do sends req and buffers the whole response body.
func (t *FastHTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Categorize(err, req.URL)
	}

	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	freq.SetRequestURI(req.URL)
	freq.Header.SetMethod(req.Method)
	for name, values := range req.Header {
		for _, v := range values {
			freq.Header.Add(name, v)
		}
	}
	if req.Body != nil {
		freq.SetBody(req.Body)
	}
	if req.Method == http.MethodHead {
		fresp.SkipBody = true
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = t.client.DoDeadline(freq, fresp, deadline)
	} else if t.timeout > 0 {
		err = t.client.DoTimeout(freq, fresp, t.timeout)
	} else {
		err = t.client.Do(freq, fresp)
	}
	if err != nil {
		if stderrors.Is(err, fasthttp.ErrTimeout) {
			if ctx.Err() != nil {
				return nil, errors.Categorize(ctx.Err(), req.URL)
			}
			return nil, errors.NewTimeoutError(req.URL, err)
		}
		return nil, errors.Categorize(err, req.URL)
	}

	header := http.Header{}
	fresp.Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	body := append([]byte(nil), fresp.Body()...)
	if req.Method != http.MethodHead {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	return NewResponse(req, fresp.StatusCode(), header, body), nil
}

// Close drops idle connections.
func (t *FastHTTPTransport) Close() {
	t.client.CloseIdleConnections()
}
