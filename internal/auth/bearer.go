package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/transport"
)

// BearerAuth sends a bearer token and renews it through a refresh endpoint
// when a JWT is about to expire.
type BearerAuth struct {
	mu           sync.RWMutex
	token        string
	refreshToken string
	refreshURL   string
	expiry       time.Time
	transport    transport.Transport
}

// NewBearerAuth creates a bearer provider.
func NewBearerAuth(token string) *BearerAuth {
	b := &BearerAuth{token: token}
	if exp, err := parseExpiry(token); err == nil {
		b.expiry = exp
	}
	return b
}

// NewBearerAuthWithRefresh creates a bearer provider with refresh capability.
func NewBearerAuthWithRefresh(token, refreshToken, refreshURL string) *BearerAuth {
	b := NewBearerAuth(token)
	b.refreshToken = refreshToken
	b.refreshURL = refreshURL
	return b
}

// Intercept refreshes the token if needed and sets the Authorization header.
func (b *BearerAuth) Intercept(ctx context.Context, req *transport.Request) error {
	if err := b.RefreshIfNeeded(ctx); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.token != "" {
		setHeader(req, "Authorization", "Bearer "+b.token)
	}
	return nil
}

// RefreshIfNeeded refreshes the token when it expires within five minutes.
func (b *BearerAuth) RefreshIfNeeded(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" && (b.expiry.IsZero() || time.Until(b.expiry) > refreshWindow) {
		return nil
	}
	if b.refreshToken == "" || b.refreshURL == "" {
		return nil
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+b.refreshToken)
	header.Set("Content-Type", "application/json")

	result, err := requestToken(ctx, b.transport, b.refreshURL, header, nil)
	if err != nil {
		return err
	}

	b.token = result.AccessToken
	if result.RefreshToken != "" {
		b.refreshToken = result.RefreshToken
	}
	b.expiry = time.Time{}
	if exp, err := parseExpiry(b.token); err == nil {
		b.expiry = exp
	} else if result.ExpiresIn > 0 {
		b.expiry = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	return nil
}

// SetToken replaces the token.
func (b *BearerAuth) SetToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.token = token
	b.expiry = time.Time{}
	if exp, err := parseExpiry(token); err == nil {
		b.expiry = exp
	}
}

// Token returns the current token.
func (b *BearerAuth) Token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.token
}

// Expiry returns the token expiry, zero when unknown.
func (b *BearerAuth) Expiry() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.expiry
}

// IsAuthenticated returns true if a token is set and not expired.
func (b *BearerAuth) IsAuthenticated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.token == "" {
		return false
	}
	return b.expiry.IsZero() || time.Now().Before(b.expiry)
}

func (b *BearerAuth) Type() Type {
	return TypeBearer
}
