// Package transport carries resolved requests to a remote server and hands
// back raw responses. Backends own connection management; decorators add
// rate limiting, retries and caching.
package transport

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// Request is a fully resolved, transport-neutral request.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	Charset  string
	Endpoint string
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

// Response is a raw response. The caller must close Body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Request    *Request
}

// NewResponse builds a response over an in-memory body.
func NewResponse(req *Request, status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
}

// Readable reports whether the response may carry a body: the status is not
// informational, 204 or 304, the request was not HEAD, and Content-Length,
// when present, is not zero.
func (r *Response) Readable() bool {
	if r.StatusCode < 200 || r.StatusCode == http.StatusNoContent || r.StatusCode == http.StatusNotModified {
		return false
	}
	if r.Request != nil && r.Request.Method == http.MethodHead {
		return false
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err == nil && n == 0 {
			return false
		}
	}
	return true
}

// MediaType returns the Content-Type without parameters, lowercased.
func (r *Response) MediaType() string {
	return MediaType(r.Header.Get("Content-Type"))
}

// Close drains and closes the body.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, r.Body)
	return r.Body.Close()
}

// MediaType strips parameters from a Content-Type value.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// Transport executes requests synchronously.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req *Request) (*Response, error)

func (f Func) Do(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// Outcome is the result of an asynchronous exchange.
type Outcome struct {
	Response *Response
	Err      error
}

// AsyncTransport additionally exposes a native asynchronous path.
type AsyncTransport interface {
	Transport
	DoAsync(ctx context.Context, req *Request) <-chan Outcome
}

// DoAsync runs req on t's asynchronous path, or on a goroutine when t has none.
func DoAsync(ctx context.Context, t Transport, req *Request) <-chan Outcome {
	if at, ok := t.(AsyncTransport); ok {
		return at.DoAsync(ctx, req)
	}
	return goAsync(ctx, t, req)
}

func goAsync(ctx context.Context, t Transport, req *Request) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		resp, err := t.Do(ctx, req)
		ch <- Outcome{Response: resp, Err: err}
	}()
	return ch
}

// Middleware decorates a transport.
type Middleware func(Transport) Transport

// Chain applies middlewares so that the first one is outermost.
func Chain(t Transport, mws ...Middleware) Transport {
	for i := len(mws) - 1; i >= 0; i-- {
		t = mws[i](t)
	}
	return t
}

// Closer is implemented by transports holding resources.
type Closer interface {
	Close()
}
