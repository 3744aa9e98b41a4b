package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/cache"
	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/logger"
)

// Headers that differ on every call without changing the response.
var volatileHeaders = map[string]bool{
	"Traceparent": true,
	"Tracestate":  true,
	"Baggage":     true,
}

// CacheKey identifies a cacheable request by method, URL and every header
// except trace context.
func CacheKey(req *Request) string {
	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		if !volatileHeaders[http.CanonicalHeaderKey(name)] {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, func(a, b string) int {
		return strings.Compare(http.CanonicalHeaderKey(a), http.CanonicalHeaderKey(b))
	})

	h := sha256.New()
	io.WriteString(h, req.Method+"\n"+req.URL+"\n")
	for _, name := range names {
		io.WriteString(h, http.CanonicalHeaderKey(name)+":"+strings.Join(req.Header[name], "\x00")+"\n")
	}
	return req.Method + " " + req.URL + " " + hex.EncodeToString(h.Sum(nil))
}

// Cached serves GET requests from store while the stored entry is younger
// than ttl. Only 2xx responses with a body are stored. A nil log uses the
// global logger.
func Cached(store cache.Store, ttl time.Duration, log *logger.Logger) Middleware {
	if log == nil {
		log = logger.Global()
	}
	log = log.WithComponent("cache")

	return func(next Transport) Transport {
		return Func(func(ctx context.Context, req *Request) (*Response, error) {
			if req.Method != http.MethodGet {
				return next.Do(ctx, req)
			}

			key := CacheKey(req)
			now := time.Now()

			entry, err := store.Get(key)
			if err != nil {
				log.WithError(err).Warn("cache lookup failed")
			} else if entry != nil && !entry.Expired(now) {
				header := entry.Header.Clone()
				header.Set("X-Cache", "HIT")
				return NewResponse(req, entry.StatusCode, header, entry.Body), nil
			}

			resp, err := next.Do(ctx, req)
			if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 || !resp.Readable() {
				return resp, err
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, errors.NewReadError(req.Endpoint, req.URL, err)
			}

			entry = &cache.Entry{
				StatusCode: resp.StatusCode,
				Header:     resp.Header.Clone(),
				Body:       body,
				StoredAt:   now,
			}
			if ttl > 0 {
				entry.ExpiresAt = now.Add(ttl)
			}
			if err := store.Put(key, entry); err != nil {
				log.WithError(err).Warn("cache store failed")
			}

			return NewResponse(req, resp.StatusCode, resp.Header, body), nil
		})
	}
}
