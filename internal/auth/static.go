package auth

import (
	"context"
	"encoding/base64"
	"maps"
	"net/http"
	"slices"
	"sync"

	"github.com/PentesterFlow/OpenClient/internal/transport"
)

// BasicAuth provides HTTP Basic authentication.
type BasicAuth struct {
	mu       sync.RWMutex
	username string
	password string
}

// NewBasicAuth creates a new Basic authentication provider.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{
		username: username,
		password: password,
	}
}

// Intercept sets the Authorization header.
func (b *BasicAuth) Intercept(ctx context.Context, req *transport.Request) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.username == "" && b.password == "" {
		return nil
	}

	creds := base64.StdEncoding.EncodeToString([]byte(b.username + ":" + b.password))
	setHeader(req, "Authorization", "Basic "+creds)
	return nil
}

// IsAuthenticated returns true if credentials are set.
func (b *BasicAuth) IsAuthenticated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.username != "" || b.password != ""
}

func (b *BasicAuth) Type() Type {
	return TypeBasic
}

// APIKeyAuth sends fixed key headers.
type APIKeyAuth struct {
	mu      sync.RWMutex
	headers map[string]string
}

// NewAPIKeyAuth creates a new API key authentication provider.
func NewAPIKeyAuth(headers map[string]string) *APIKeyAuth {
	return &APIKeyAuth{headers: maps.Clone(headers)}
}

// Intercept sets every key header, replacing values set by the method.
func (a *APIKeyAuth) Intercept(ctx context.Context, req *transport.Request) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for k, v := range a.headers {
		setHeader(req, k, v)
	}
	return nil
}

// IsAuthenticated returns true if headers are set.
func (a *APIKeyAuth) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.headers) > 0
}

func (a *APIKeyAuth) Type() Type {
	return TypeAPIKey
}

// SessionAuth sends session cookies.
type SessionAuth struct {
	mu      sync.RWMutex
	cookies []*http.Cookie
}

// NewSessionAuth creates a session provider from name/value pairs.
func NewSessionAuth(cookies map[string]string) *SessionAuth {
	s := &SessionAuth{}
	for _, name := range slices.Sorted(maps.Keys(cookies)) {
		s.cookies = append(s.cookies, &http.Cookie{Name: name, Value: cookies[name]})
	}
	return s
}

// Intercept appends the session cookies to the Cookie header.
func (s *SessionAuth) Intercept(ctx context.Context, req *transport.Request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.cookies) == 0 {
		return nil
	}

	r := &http.Request{Header: http.Header{}}
	if existing := req.Header.Get("Cookie"); existing != "" {
		r.Header.Set("Cookie", existing)
	}
	for _, c := range s.cookies {
		r.AddCookie(c)
	}
	setHeader(req, "Cookie", r.Header.Get("Cookie"))
	return nil
}

// AddCookie adds a cookie, replacing one with the same name.
func (s *SessionAuth) AddCookie(cookie *http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.cookies {
		if c.Name == cookie.Name {
			s.cookies[i] = cookie
			return
		}
	}
	s.cookies = append(s.cookies, cookie)
}

// Cookie returns a cookie by name.
func (s *SessionAuth) Cookie(name string) *http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ClearCookies removes all cookies.
func (s *SessionAuth) ClearCookies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = nil
}

// IsAuthenticated returns true if cookies are set.
func (s *SessionAuth) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cookies) > 0
}

func (s *SessionAuth) Type() Type {
	return TypeSession
}
