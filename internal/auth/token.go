package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/transport"
)

// refreshWindow is how long before expiry a token is renewed.
const refreshWindow = 5 * time.Minute

const maxTokenResponse = 1 << 20

// tokenEndpoint names token requests in logs, metrics and errors.
const tokenEndpoint = "auth.token"

var errNoExpiry = stderrors.New("token carries no exp claim")

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// requestToken posts body to url and decodes the token response.
func requestToken(ctx context.Context, t transport.Transport, url string, header http.Header, body []byte) (*tokenResponse, error) {
	req := &transport.Request{
		Method:   http.MethodPost,
		URL:      url,
		Header:   header,
		Body:     body,
		Endpoint: tokenEndpoint,
	}

	resp, err := tokenTransport(t).Do(ctx, req)
	if err != nil {
		return nil, errors.Categorize(err, url)
	}
	defer resp.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewRemoteResponseError(req.Endpoint, url, resp.StatusCode, resp.Header, string(data))
	}
	if err != nil {
		return nil, errors.NewReadError(req.Endpoint, url, err)
	}

	var result tokenResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.NewReadError(req.Endpoint, url, err)
	}
	return &result, nil
}

// parseExpiry extracts the exp claim from a JWT without verifying it.
func parseExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, errNoExpiry
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		payload, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return time.Time{}, err
		}
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.Exp == 0 {
		return time.Time{}, errNoExpiry
	}

	return time.Unix(claims.Exp, 0), nil
}
