package auth

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/transport"
)

// OAuthAuth obtains tokens with the OAuth 2.0 client credentials grant and
// renews them with the refresh token grant when the server issued one. A
// rejected refresh token is dropped and the client credentials grant is used
// instead.
type OAuthAuth struct {
	mu        sync.Mutex
	config    *OAuthConfig
	token     *oauth2.Token
	transport transport.Transport
}

// NewOAuthAuth creates a new OAuth authentication provider.
func NewOAuthAuth(config *OAuthConfig) *OAuthAuth {
	return &OAuthAuth{config: config}
}

// Intercept obtains or renews the token and sets the Authorization header.
func (o *OAuthAuth) Intercept(ctx context.Context, req *transport.Request) error {
	if err := o.RefreshIfNeeded(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token != nil && o.token.AccessToken != "" {
		setHeader(req, "Authorization", o.token.Type()+" "+o.token.AccessToken)
	}
	return nil
}

// RefreshIfNeeded fetches a token when none is held or the current one
// expires within five minutes.
func (o *OAuthAuth) RefreshIfNeeded(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	current := o.token
	if current != nil && current.AccessToken == "" {
		current = nil
	}
	src := oauth2.ReuseTokenSourceWithExpiry(current, grantSource{o: o, ctx: o.tokenContext(ctx)}, refreshWindow)

	tok, err := src.Token()
	if err != nil {
		return o.tokenError(err)
	}
	o.token = tok
	return nil
}

// IsAuthenticated returns true if a token is held and not expired.
func (o *OAuthAuth) IsAuthenticated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token == nil || o.token.AccessToken == "" {
		return false
	}
	return o.token.Expiry.IsZero() || time.Now().Before(o.token.Expiry)
}

func (o *OAuthAuth) Type() Type {
	return TypeOAuth
}

// grantSource runs one token grant. It is called with o.mu held.
type grantSource struct {
	o   *OAuthAuth
	ctx context.Context
}

func (g grantSource) Token() (*oauth2.Token, error) {
	o := g.o
	if o.token != nil && o.token.RefreshToken != "" {
		cfg := &oauth2.Config{
			ClientID:     o.config.ClientID,
			ClientSecret: o.config.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: o.config.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       o.config.Scopes,
		}
		tok, err := cfg.TokenSource(g.ctx, &oauth2.Token{RefreshToken: o.token.RefreshToken}).Token()
		var rejected *oauth2.RetrieveError
		if !stderrors.As(err, &rejected) {
			return tok, err
		}
		o.token.RefreshToken = ""
	}

	cc := &clientcredentials.Config{
		ClientID:     o.config.ClientID,
		ClientSecret: o.config.ClientSecret,
		TokenURL:     o.config.TokenURL,
		Scopes:       o.config.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return cc.Token(g.ctx)
}

// tokenContext routes the oauth2 package's token requests through the
// provider's transport.
func (o *OAuthAuth) tokenContext(ctx context.Context) context.Context {
	client := &http.Client{Transport: roundTripper{t: tokenTransport(o.transport)}}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func (o *OAuthAuth) tokenError(err error) error {
	var rejected *oauth2.RetrieveError
	if stderrors.As(err, &rejected) && rejected.Response != nil {
		return errors.NewRemoteResponseError(tokenEndpoint, o.config.TokenURL,
			rejected.Response.StatusCode, rejected.Response.Header, string(rejected.Body))
	}
	return errors.Categorize(err, o.config.TokenURL)
}

// roundTripper adapts a transport.Transport to net/http.
type roundTripper struct {
	t transport.Transport
}

func (rt roundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, err
		}
		body = data
	}

	resp, err := rt.t.Do(r.Context(), &transport.Request{
		Method:   r.Method,
		URL:      r.URL.String(),
		Header:   r.Header.Clone(),
		Body:     body,
		Endpoint: tokenEndpoint,
	})
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:     http.StatusText(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     resp.Header,
		Body:       resp.Body,
		Request:    r,
	}, nil
}
