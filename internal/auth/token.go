package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultExpiresIn is the conservative token lifetime assumed when the token
// endpoint omits expires_in.
const defaultExpiresIn = 300

// TokenSet is the in-memory access/refresh token pair. ExpiresAt is always
// recomputed from "now + expires_in" at the moment a token response is
// received.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// TokenStorage is the persisted form of a TokenSet, written as a JSON auth
// file under the configured auth directory.
type TokenStorage struct {
	// AccessToken is the OAuth2 access token used for authenticating API requests.
	AccessToken string `json:"access_token"`
	// RefreshToken is used to obtain new access tokens when the current one expires.
	RefreshToken string `json:"refresh_token"`
	// TokenType indicates the type of token, typically "Bearer".
	TokenType string `json:"token_type"`
	// Expire is the RFC 3339 timestamp when the current access token expires.
	Expire string `json:"expired"`
	// LastRefresh is the timestamp of the last token refresh operation.
	LastRefresh string `json:"last_refresh"`
	// Type indicates the provider type, always "laddel" for this storage.
	Type string `json:"type"`
}

// TokenSet converts the persisted storage back into the runtime form.
// An unparseable or absent expiry yields a zero ExpiresAt, which the manager
// treats as "refresh needed".
func (ts *TokenStorage) TokenSet() *TokenSet {
	set := &TokenSet{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		TokenType:    ts.TokenType,
	}
	if ts.Expire != "" {
		if expire, err := time.Parse(time.RFC3339, ts.Expire); err == nil {
			set.ExpiresAt = expire
		}
	}
	return set
}

// NewTokenStorage converts a runtime token set into its persisted form.
func NewTokenStorage(set *TokenSet) *TokenStorage {
	return &TokenStorage{
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		TokenType:    set.TokenType,
		Expire:       set.ExpiresAt.Format(time.RFC3339),
		LastRefresh:  time.Now().Format(time.RFC3339),
		Type:         "laddel",
	}
}

// tokenResponse is the provider's token endpoint payload for both grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// exchangeAuthorizationCode trades an authorization code plus the PKCE
// verifier for a token set. The verifier is transmitted here and nowhere else.
func exchangeAuthorizationCode(ctx context.Context, httpClient *http.Client, tokenURL, code, verifier string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {ClientID},
		"code":          {code},
		"redirect_uri":  {RedirectURI},
		"code_verifier": {verifier},
	}
	return exchange(ctx, httpClient, tokenURL, data, KindTokenExchangeFailed)
}

// exchangeRefreshToken trades a refresh token for a new token set. When the
// response omits a rotated refresh token the returned RefreshToken is empty;
// keeping the prior value is the lifecycle manager's responsibility.
func exchangeRefreshToken(ctx context.Context, httpClient *http.Client, tokenURL, refreshToken string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {ClientID},
		"scope":         {Scope},
	}
	return exchange(ctx, httpClient, tokenURL, data, KindTokenExchangeFailed)
}

func exchange(ctx context.Context, httpClient *http.Client, tokenURL string, data url.Values, failKind Kind) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, wrapErr(KindNetworkFailure, err, "create token request failed")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, wrapErr(KindNetworkFailure, err, "token request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(KindNetworkFailure, err, "read token response failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FlowError{
			Kind:   failKind,
			Msg:    "token endpoint rejected the " + data.Get("grant_type") + " grant",
			Status: resp.StatusCode,
			Body:   string(body),
		}
	}

	var tokenResp tokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, wrapErr(failKind, err, "parse token response failed")
	}
	if tokenResp.AccessToken == "" {
		return nil, flowErr(failKind, "token response carries no access token")
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	return &TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
