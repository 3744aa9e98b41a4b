// Package auth provides request interceptors that authenticate outgoing
// endpoint calls.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PentesterFlow/OpenClient/internal/transport"
)

// Type represents the type of authentication.
type Type string

const (
	TypeNone    Type = "none"
	TypeBasic   Type = "basic"
	TypeBearer  Type = "bearer"
	TypeAPIKey  Type = "apikey"
	TypeSession Type = "session"
	TypeOAuth   Type = "oauth"
)

// Credentials holds authentication credentials as they appear in client
// configuration.
type Credentials struct {
	Type         Type              `yaml:"type" json:"type" validate:"omitempty,oneof=none basic bearer apikey session oauth"`
	Username     string            `yaml:"username,omitempty" json:"username,omitempty"`
	Password     string            `yaml:"password,omitempty" json:"password,omitempty"`
	Token        string            `yaml:"token,omitempty" json:"token,omitempty"`
	RefreshToken string            `yaml:"refresh_token,omitempty" json:"refresh_token,omitempty"`
	RefreshURL   string            `yaml:"refresh_url,omitempty" json:"refresh_url,omitempty" validate:"omitempty,url"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Cookies      map[string]string `yaml:"cookies,omitempty" json:"cookies,omitempty"`
	OAuth        *OAuthConfig      `yaml:"oauth,omitempty" json:"oauth,omitempty"`
}

// OAuthConfig holds OAuth 2.0 client credentials configuration.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	TokenURL     string   `yaml:"token_url" json:"token_url" validate:"omitempty,url"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// Provider authenticates requests. Every provider is a request interceptor.
type Provider interface {
	// Intercept refreshes credentials when needed and applies them to req.
	Intercept(ctx context.Context, req *transport.Request) error

	// IsAuthenticated returns true if credentials are currently usable.
	IsAuthenticated() bool

	// Type returns the authentication type.
	Type() Type
}

// NewProvider creates a provider for creds. Token requests of refreshing
// providers go through t; a nil t uses a default HTTP transport.
func NewProvider(creds Credentials, t transport.Transport) (Provider, error) {
	switch creds.Type {
	case TypeNone, "":
		return &NoAuth{}, nil
	case TypeBasic:
		return NewBasicAuth(creds.Username, creds.Password), nil
	case TypeBearer:
		b := NewBearerAuthWithRefresh(creds.Token, creds.RefreshToken, creds.RefreshURL)
		b.transport = t
		return b, nil
	case TypeAPIKey:
		return NewAPIKeyAuth(creds.Headers), nil
	case TypeSession:
		return NewSessionAuth(creds.Cookies), nil
	case TypeOAuth:
		if creds.OAuth == nil {
			return nil, fmt.Errorf("oauth credentials need an oauth section")
		}
		o := NewOAuthAuth(creds.OAuth)
		o.transport = t
		return o, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", creds.Type)
	}
}

// NoAuth leaves requests untouched.
type NoAuth struct{}

func (n *NoAuth) Intercept(ctx context.Context, req *transport.Request) error {
	return nil
}

func (n *NoAuth) IsAuthenticated() bool {
	return true
}

func (n *NoAuth) Type() Type {
	return TypeNone
}

func setHeader(req *transport.Request, name, value string) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set(name, value)
}

func tokenTransport(t transport.Transport) transport.Transport {
	if t != nil {
		return t
	}
	return transport.NewHTTPTransport(transport.DefaultHTTPConfig())
}
