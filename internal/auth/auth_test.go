package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/transport"
)

func createTestJWT(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp":%d}`, exp.Unix())))
	sig := base64.RawURLEncoding.EncodeToString([]byte("sig"))
	return header + "." + payload + "." + sig
}

func intercept(t *testing.T, p Provider) *transport.Request {
	t.Helper()
	req := &transport.Request{Method: http.MethodGet, URL: "http://api.example.com/users", Header: http.Header{}}
	if err := p.Intercept(context.Background(), req); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	return req
}

// =============================================================================
// NewProvider Tests
// =============================================================================

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		wantType Type
		wantErr  bool
	}{
		{"empty type", Credentials{}, TypeNone, false},
		{"none", Credentials{Type: TypeNone}, TypeNone, false},
		{"basic", Credentials{Type: TypeBasic, Username: "u", Password: "p"}, TypeBasic, false},
		{"bearer", Credentials{Type: TypeBearer, Token: "abc"}, TypeBearer, false},
		{"apikey", Credentials{Type: TypeAPIKey, Headers: map[string]string{"X-API-Key": "k"}}, TypeAPIKey, false},
		{"session", Credentials{Type: TypeSession, Cookies: map[string]string{"sid": "1"}}, TypeSession, false},
		{"oauth", Credentials{Type: TypeOAuth, OAuth: &OAuthConfig{ClientID: "c"}}, TypeOAuth, false},
		{"oauth without config", Credentials{Type: TypeOAuth}, "", true},
		{"unknown", Credentials{Type: "kerberos"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.creds, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Type() != tt.wantType {
				t.Errorf("Type() = %v, want %v", p.Type(), tt.wantType)
			}
		})
	}
}

func TestNoAuth(t *testing.T) {
	p := &NoAuth{}
	req := intercept(t, p)

	if len(req.Header) != 0 {
		t.Errorf("Header = %v, want empty", req.Header)
	}
	if !p.IsAuthenticated() {
		t.Error("NoAuth should always be authenticated")
	}
}

// =============================================================================
// Static Provider Tests
// =============================================================================

func TestBasicAuth(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		want     string
	}{
		{"credentials", "aladdin", "opensesame", "Basic YWxhZGRpbjpvcGVuc2VzYW1l"},
		{"password only", "", "secret", "Basic OnNlY3JldA=="},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewBasicAuth(tt.username, tt.password)
			req := intercept(t, p)

			if got := req.Header.Get("Authorization"); got != tt.want {
				t.Errorf("Authorization = %q, want %q", got, tt.want)
			}
			if p.IsAuthenticated() != (tt.want != "") {
				t.Errorf("IsAuthenticated() = %v", p.IsAuthenticated())
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	keys := map[string]string{"X-API-Key": "k1", "X-Tenant": "acme"}
	p := NewAPIKeyAuth(keys)
	keys["X-API-Key"] = "mutated"

	req := &transport.Request{Header: http.Header{"X-Api-Key": {"from-method"}}}
	if err := p.Intercept(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	if got := req.Header.Get("X-API-Key"); got != "k1" {
		t.Errorf("X-API-Key = %q, want k1", got)
	}
	if got := req.Header.Get("X-Tenant"); got != "acme" {
		t.Errorf("X-Tenant = %q, want acme", got)
	}
	if !p.IsAuthenticated() {
		t.Error("should be authenticated with keys")
	}
	if NewAPIKeyAuth(nil).IsAuthenticated() {
		t.Error("should not be authenticated without keys")
	}
}

func TestAPIKeyAuth_NilHeader(t *testing.T) {
	p := NewAPIKeyAuth(map[string]string{"X-API-Key": "k"})
	req := &transport.Request{}

	if err := p.Intercept(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if req.Header.Get("X-API-Key") != "k" {
		t.Errorf("Header = %v", req.Header)
	}
}

func TestSessionAuth(t *testing.T) {
	p := NewSessionAuth(map[string]string{"sid": "abc", "csrf": "xyz"})

	req := &transport.Request{Header: http.Header{"Cookie": {"theme=dark"}}}
	if err := p.Intercept(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if got := req.Header.Get("Cookie"); got != "theme=dark; csrf=xyz; sid=abc" {
		t.Errorf("Cookie = %q", got)
	}
}

func TestSessionAuth_Cookies(t *testing.T) {
	p := NewSessionAuth(nil)
	if p.IsAuthenticated() {
		t.Error("should not be authenticated without cookies")
	}

	p.AddCookie(&http.Cookie{Name: "sid", Value: "1"})
	p.AddCookie(&http.Cookie{Name: "sid", Value: "2"})

	if c := p.Cookie("sid"); c == nil || c.Value != "2" {
		t.Errorf("Cookie(sid) = %v, want value 2", c)
	}
	if p.Cookie("missing") != nil {
		t.Error("Cookie(missing) should be nil")
	}

	req := intercept(t, p)
	if got := req.Header.Get("Cookie"); got != "sid=2" {
		t.Errorf("Cookie = %q, want sid=2", got)
	}

	p.ClearCookies()
	if p.IsAuthenticated() {
		t.Error("should not be authenticated after clear")
	}
}

func TestSessionAuth_Concurrent(t *testing.T) {
	p := NewSessionAuth(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			p.AddCookie(&http.Cookie{Name: fmt.Sprintf("c%d", i%5), Value: "v"})
		}(i)
		go func() {
			defer wg.Done()
			req := &transport.Request{}
			p.Intercept(context.Background(), req)
		}()
	}
	wg.Wait()
}

// =============================================================================
// Bearer Tests
// =============================================================================

func TestNewBearerAuth(t *testing.T) {
	t.Run("with token", func(t *testing.T) {
		token := createTestJWT(time.Now().Add(time.Hour))
		p := NewBearerAuth(token)

		if !p.IsAuthenticated() {
			t.Error("should be authenticated with token")
		}
		if p.Token() != token {
			t.Error("token should match")
		}
		if p.Expiry().IsZero() {
			t.Error("expiry should be parsed from the token")
		}
	})

	t.Run("opaque token", func(t *testing.T) {
		p := NewBearerAuth("opaque")

		if !p.IsAuthenticated() {
			t.Error("opaque tokens never expire")
		}
		if req := intercept(t, p); req.Header.Get("Authorization") != "Bearer opaque" {
			t.Errorf("Authorization = %q", req.Header.Get("Authorization"))
		}
	})

	t.Run("without token", func(t *testing.T) {
		p := NewBearerAuth("")

		if p.IsAuthenticated() {
			t.Error("should not be authenticated without token")
		}
		if req := intercept(t, p); req.Header.Get("Authorization") != "" {
			t.Error("no header without a token")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		p := NewBearerAuth(createTestJWT(time.Now().Add(-time.Hour)))

		if p.IsAuthenticated() {
			t.Error("should not be authenticated with expired token")
		}
	})
}

func TestBearerAuth_SetToken(t *testing.T) {
	p := NewBearerAuth("")
	token := createTestJWT(time.Now().Add(time.Hour))
	p.SetToken(token)

	if p.Token() != token || !p.IsAuthenticated() {
		t.Error("SetToken should install a usable token")
	}
}

func TestBearerAuth_Refresh(t *testing.T) {
	fresh := createTestJWT(time.Now().Add(2 * time.Hour))
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer refresh_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  fresh,
			"refresh_token": "new_refresh_token",
		})
	}))
	defer server.Close()

	old := createTestJWT(time.Now().Add(time.Minute))
	p := NewBearerAuthWithRefresh(old, "refresh_token", server.URL)

	req := intercept(t, p)
	if got := req.Header.Get("Authorization"); got != "Bearer "+fresh {
		t.Errorf("Authorization = %q, want the refreshed token", got)
	}

	intercept(t, p)
	if calls != 1 {
		t.Errorf("refresh calls = %d, want 1", calls)
	}
}

func TestBearerAuth_RefreshRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("expired refresh token"))
	}))
	defer server.Close()

	p := NewBearerAuthWithRefresh(createTestJWT(time.Now().Add(-time.Minute)), "stale", server.URL)
	err := p.Intercept(context.Background(), &transport.Request{})

	remote, ok := errors.AsRemote(err)
	if !ok {
		t.Fatalf("Intercept() error = %v, want remote error", err)
	}
	if remote.Reason() != errors.Unauthorized || remote.Body != "expired refresh token" {
		t.Errorf("remote = %d %q", remote.StatusCode, remote.Body)
	}
}

func TestParseExpiry(t *testing.T) {
	t.Run("valid JWT", func(t *testing.T) {
		expiry := time.Now().Add(time.Hour).Truncate(time.Second)
		exp, err := parseExpiry(createTestJWT(expiry))
		if err != nil {
			t.Errorf("parseExpiry() error = %v", err)
		}
		if exp.Unix() != expiry.Unix() {
			t.Errorf("exp = %v, want %v", exp, expiry)
		}
	})

	t.Run("invalid JWT", func(t *testing.T) {
		if _, err := parseExpiry("invalid"); err == nil {
			t.Error("expected error for invalid JWT")
		}
	})

	t.Run("JWT without exp", func(t *testing.T) {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{}`))
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"123"}`))
		sig := base64.RawURLEncoding.EncodeToString([]byte("sig"))

		if _, err := parseExpiry(header + "." + payload + "." + sig); err == nil {
			t.Error("expected error for JWT without exp")
		}
	})
}
// =============================================================================
// OAuth Tests
// =============================================================================

func writeToken(w http.ResponseWriter, fields map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fields)
}

func TestOAuthAuth_ClientCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("scope") != "read write" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Form.Get("client_id") != "client123" || r.Form.Get("client_secret") != "secret456" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeToken(w, map[string]any{
			"access_token": "new_access_token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	p := NewOAuthAuth(&OAuthConfig{
		ClientID:     "client123",
		ClientSecret: "secret456",
		TokenURL:     server.URL,
		Scopes:       []string{"read", "write"},
	})
	if p.IsAuthenticated() {
		t.Error("should not be authenticated before the first call")
	}

	req := intercept(t, p)
	if got := req.Header.Get("Authorization"); got != "Bearer new_access_token" {
		t.Errorf("Authorization = %q", got)
	}
	if !p.IsAuthenticated() {
		t.Error("should be authenticated after a token was issued")
	}
}

func TestOAuthAuth_TokenReused(t *testing.T) {
	var mu sync.Mutex
	grants := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		grants++
		mu.Unlock()
		writeToken(w, map[string]any{"access_token": "tok", "expires_in": 3600})
	}))
	defer server.Close()

	p := NewOAuthAuth(&OAuthConfig{ClientID: "c", TokenURL: server.URL})
	for i := 0; i < 3; i++ {
		intercept(t, p)
	}

	mu.Lock()
	defer mu.Unlock()
	if grants != 1 {
		t.Errorf("token requests = %d, want 1", grants)
	}
}

func TestOAuthAuth_ThroughTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, map[string]any{"access_token": "tok"})
	}))
	defer server.Close()

	var endpoints []string
	base := transport.NewHTTPTransport(transport.DefaultHTTPConfig())
	spy := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		endpoints = append(endpoints, req.Endpoint)
		return base.Do(ctx, req)
	})

	p, err := NewProvider(Credentials{Type: TypeOAuth, OAuth: &OAuthConfig{ClientID: "c", TokenURL: server.URL}}, spy)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	intercept(t, p)

	if len(endpoints) != 1 || endpoints[0] != "auth.token" {
		t.Errorf("transport saw %v, want one auth.token request", endpoints)
	}
}

func TestOAuthAuth_RefreshGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old_refresh" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeToken(w, map[string]any{
			"access_token":  "refreshed_token",
			"refresh_token": "new_refresh",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	p := NewOAuthAuth(&OAuthConfig{ClientID: "client", ClientSecret: "secret", TokenURL: server.URL})
	p.token = &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "old_refresh",
		Expiry:       time.Now().Add(time.Minute),
	}

	if err := p.RefreshIfNeeded(context.Background()); err != nil {
		t.Fatalf("RefreshIfNeeded() error = %v", err)
	}
	if p.token.AccessToken != "refreshed_token" || p.token.RefreshToken != "new_refresh" {
		t.Errorf("tokens = %q, %q", p.token.AccessToken, p.token.RefreshToken)
	}
}

func TestOAuthAuth_RejectedRefreshFallsBackToClientCredentials(t *testing.T) {
	var mu sync.Mutex
	var grantTypes []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		mu.Lock()
		grantTypes = append(grantTypes, r.Form.Get("grant_type"))
		mu.Unlock()

		if r.Form.Get("grant_type") == "refresh_token" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		writeToken(w, map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	defer server.Close()

	p := NewOAuthAuth(&OAuthConfig{ClientID: "client", ClientSecret: "secret", TokenURL: server.URL})
	p.token = &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Minute),
	}

	if err := p.RefreshIfNeeded(context.Background()); err != nil {
		t.Fatalf("RefreshIfNeeded() error = %v", err)
	}
	if p.token.AccessToken != "fresh" {
		t.Errorf("AccessToken = %q, want fresh", p.token.AccessToken)
	}
	if p.token.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want the rejected one dropped", p.token.RefreshToken)
	}

	// Expire the new token; the rejected refresh token must not be retried.
	p.token.Expiry = time.Now().Add(-time.Minute)
	if err := p.RefreshIfNeeded(context.Background()); err != nil {
		t.Fatalf("second RefreshIfNeeded() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"refresh_token", "client_credentials", "client_credentials"}
	if fmt.Sprint(grantTypes) != fmt.Sprint(want) {
		t.Errorf("grant types = %v, want %v", grantTypes, want)
	}
}

func TestOAuthAuth_ClientCredentialsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client"}`)
	}))
	defer server.Close()

	p := NewOAuthAuth(&OAuthConfig{ClientID: "c", TokenURL: server.URL})
	err := p.Intercept(context.Background(), &transport.Request{})

	remote, ok := errors.AsRemote(err)
	if !ok {
		t.Fatalf("Intercept() error = %v, want remote response error", err)
	}
	if remote.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", remote.StatusCode)
	}
}

func TestOAuthAuth_NoRefreshNeeded(t *testing.T) {
	p := NewOAuthAuth(&OAuthConfig{TokenURL: "http://127.0.0.1:1/token"})
	p.token = &oauth2.Token{AccessToken: "valid", Expiry: time.Now().Add(time.Hour)}

	if err := p.RefreshIfNeeded(context.Background()); err != nil {
		t.Errorf("RefreshIfNeeded() error = %v", err)
	}
}

func TestOAuthAuth_TokenEndpointDown(t *testing.T) {
	p := NewOAuthAuth(&OAuthConfig{TokenURL: "http://127.0.0.1:1/token"})

	err := p.Intercept(context.Background(), &transport.Request{})
	if errors.GetKind(err) != errors.Transport {
		t.Errorf("Intercept() error = %v, want TransportError", err)
	}
}
