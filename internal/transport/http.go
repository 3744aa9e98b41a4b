package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/PentesterFlow/OpenClient/internal/errors"
)

// HTTPConfig tunes the net/http backend.
type HTTPConfig struct {
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	MaxIdleConns        int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" json:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host" json:"max_conns_per_host"`
	UserAgent           string        `yaml:"user_agent" json:"user_agent"`
	SkipTLSVerify       bool          `yaml:"skip_tls_verify" json:"skip_tls_verify"`
	FollowRedirects     int           `yaml:"follow_redirects" json:"follow_redirects"`
	Cookies             bool          `yaml:"cookies" json:"cookies"`
}

// DefaultHTTPConfig returns defaults suited to API traffic.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		UserAgent:           "openclient/1.0",
		FollowRedirects:     10,
	}
}

// HTTPTransport is the net/http backend.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport creates a backend over a tuned http.Transport.
func NewHTTPTransport(config HTTPConfig) *HTTPTransport {
	rt := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	client := &http.Client{
		Transport: rt,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.FollowRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	if config.Cookies {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err == nil {
			client.Jar = jar
		}
	}

	return &HTTPTransport{client: client, userAgent: config.UserAgent}
}

// Do sends req. Non-2xx statuses are not errors at this layer.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.NewTransportError(req.URL, errors.ReasonUnknown, "failed to create request", err)
	}

	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if t.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errors.Categorize(err, req.URL)
	}

	header := resp.Header.Clone()
	if resp.ContentLength >= 0 && header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       resp.Body,
		Request:    req,
	}, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() {
	t.client.CloseIdleConnections()
}
