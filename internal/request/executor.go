// Package request turns an endpoint method and its arguments into a
// transport request and sends it.
package request

import (
	"context"
	stderrors "errors"
	"mime"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/codec"
	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/logger"
	"github.com/PentesterFlow/OpenClient/internal/resolve"
	"github.com/PentesterFlow/OpenClient/internal/transport"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
)

// DefaultCharset is used when a Content-Type names no charset.
const DefaultCharset = "UTF-8"

// Interceptor edits a fully resolved request just before it is sent.
type Interceptor interface {
	Intercept(ctx context.Context, req *transport.Request) error
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, req *transport.Request) error

func (f InterceptorFunc) Intercept(ctx context.Context, req *transport.Request) error {
	return f(ctx, req)
}

// Config wires an Executor.
type Config struct {
	BaseURL        string
	DefaultHeaders http.Header
	Resolver       *resolve.Resolver
	Codecs         *codec.Registry
	Transport      transport.Transport
	Interceptors   []Interceptor
	Logger         *logger.Logger
}

// Executor builds and sends requests. It is safe for concurrent use.
type Executor struct {
	baseURL      string
	headers      http.Header
	resolver     *resolve.Resolver
	codecs       *codec.Registry
	transport    transport.Transport
	interceptors []Interceptor
	log          *logger.Logger
}

// New creates an executor. Transport is required.
func New(cfg Config) *Executor {
	if cfg.Resolver == nil {
		cfg.Resolver = resolve.New(nil)
	}
	if cfg.Codecs == nil {
		cfg.Codecs = codec.NewDefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global()
	}
	return &Executor{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		headers:      cfg.DefaultHeaders.Clone(),
		resolver:     cfg.Resolver,
		codecs:       cfg.Codecs,
		transport:    cfg.Transport,
		interceptors: append([]Interceptor(nil), cfg.Interceptors...),
		log:          cfg.Logger.WithComponent("request"),
	}
}

// Transport returns the transport requests are sent over.
func (e *Executor) Transport() transport.Transport {
	return e.transport
}

// Build resolves path, headers, query and body, in that order, then runs the
// interceptors.
func (e *Executor) Build(ctx context.Context, m *contract.Method, args []any) (*transport.Request, error) {
	if len(args) != len(m.Parameters) {
		return nil, errors.Configurationf(m.ID(), "expected %d arguments, got %d", len(m.Parameters), len(args))
	}

	path, err := e.resolver.Path(m, args)
	if err != nil {
		return nil, err
	}

	resolved, err := e.resolver.Headers(m, args)
	if err != nil {
		return nil, err
	}
	header := e.headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	for name, values := range resolved {
		header[name] = values
	}

	query, err := e.resolver.Query(m, args)
	if err != nil {
		return nil, err
	}

	req := &transport.Request{
		Method:   m.HTTPMethod,
		URL:      e.url(path, query),
		Header:   header,
		Charset:  DefaultCharset,
		Endpoint: m.ID(),
	}

	if err := e.encodeBody(m, args, req); err != nil {
		return nil, err
	}

	for _, in := range e.interceptors {
		if err := in.Intercept(ctx, req); err != nil {
			if errors.GetKind(err) != errors.Unknown {
				return nil, err
			}
			return nil, errors.NewRequestEncodingError(m.ID(), "intercept", err)
		}
	}

	return req, nil
}

func (e *Executor) url(path, query string) string {
	base := e.baseURL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		base = ""
	} else if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if query != "" && strings.Contains(path, "?") {
		query = "&" + query[1:]
	}
	return base + path + query
}

func (e *Executor) encodeBody(m *contract.Method, args []any, req *transport.Request) error {
	p, ok := m.Body()
	if !ok {
		return nil
	}
	v := resolve.Arg(args, p.Position)
	if isNil(v) {
		return nil
	}

	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		switch x := v.(type) {
		case string:
			req.Body = []byte(x)
			return nil
		case []byte:
			req.Body = x
			return nil
		}
		return errors.Configurationf(m.ID(), "body of type %T requires a Content-Type header", v)
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = transport.MediaType(contentType)
	}
	if cs := params["charset"]; cs != "" {
		req.Charset = cs
	}

	c := e.codecs.Writer(mediaType, reflect.TypeOf(v))
	if c == nil {
		return errors.Configurationf(m.ID(), "no codec writes %T as %s", v, mediaType)
	}

	body, err := c.Write(v)
	if err != nil {
		if errors.GetKind(err) == errors.RequestEncoding {
			return err
		}
		return errors.NewRequestEncodingError(m.ID(), "encode body as "+mediaType, err)
	}
	req.Body = body
	return nil
}

// Exchange builds the request and sends it synchronously.
func (e *Executor) Exchange(ctx context.Context, m *contract.Method, args []any) (*transport.Response, error) {
	req, err := e.Build(ctx, m, args)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := e.transport.Do(ctx, req)
	return e.finish(req, start, resp, err)
}

// ExchangeAsync builds the request and sends it on the transport's
// asynchronous path. Build failures are delivered on the channel too.
func (e *Executor) ExchangeAsync(ctx context.Context, m *contract.Method, args []any) <-chan transport.Outcome {
	out := make(chan transport.Outcome, 1)

	req, err := e.Build(ctx, m, args)
	if err != nil {
		out <- transport.Outcome{Err: err}
		return out
	}

	start := time.Now()
	pending := transport.DoAsync(ctx, e.transport, req)
	go func() {
		var o transport.Outcome
		select {
		case o = <-pending:
		case <-ctx.Done():
			o = transport.Outcome{Err: ctx.Err()}
			go func() {
				if late := <-pending; late.Response != nil {
					late.Response.Close()
				}
			}()
		}
		resp, err := e.finish(req, start, o.Response, o.Err)
		out <- transport.Outcome{Response: resp, Err: err}
	}()
	return out
}

func (e *Executor) finish(req *transport.Request, start time.Time, resp *transport.Response, err error) (*transport.Response, error) {
	if err != nil {
		err = errors.Categorize(err, req.URL)
		var ce *errors.Error
		if stderrors.As(err, &ce) && ce.Endpoint == "" {
			ce.Endpoint = req.Endpoint
		}
		e.log.ExchangeFailed(req.Method, req.URL, err)
		return nil, err
	}
	e.log.Exchange(req.Method, req.URL, resp.StatusCode, time.Since(start))
	return resp, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
