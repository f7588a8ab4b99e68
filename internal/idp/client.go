// Package idp is the outbound HTTP client to the identity service: token
// exchange, token refresh, userinfo, and revocation.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TokenResponse mirrors the identity service's token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
}

// Client talks to one identity service application. All fields are read-only
// after construction; methods are safe for concurrent use.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	oauthConfig  oauth2.Config
	httpClient   *http.Client
}

// NewClient builds a Client for the identity service at the given domain.
// The token endpoint authenticates with HTTP Basic client credentials.
func NewClient(identityServiceDomain, clientID, clientSecret string) *Client {
	return NewClientWithBaseURL(fmt.Sprintf("https://%s/api/v1", identityServiceDomain), clientID, clientSecret)
}

// NewClientWithBaseURL builds a Client against an explicit API base URL.
func NewClientWithBaseURL(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		oauthConfig: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  baseURL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetTokens exchanges an authorization code plus the original PKCE verifier
// and redirect URI for tokens.
func (c *Client) GetTokens(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauthConfig.Exchange(ctx, code,
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
		oauth2.VerifierOption(codeVerifier),
	)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, &StatusError{
				StatusCode:  retrieveErr.Response.StatusCode,
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
			}
		}
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		resp.ExpiresIn = int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			resp.ExpiresIn = int(n)
		}
	default:
		// No raw expires_in; derive from the computed expiry.
		if !tok.Expiry.IsZero() {
			resp.ExpiresIn = int(time.Until(tok.Expiry).Seconds())
		}
	}
	return resp, nil
}

// RefreshToken performs a single refresh_token grant. Retry policy lives in
// the flow engine, which needs the response status to classify failures.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	var resp TokenResponse
	if err := c.postForm(ctx, "/oauth2/token", form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeRefreshToken revokes a refresh token at the identity service.
func (c *Client) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	form := url.Values{"token": {refreshToken}}
	return c.postForm(ctx, "/oauth2/revoke", form, nil)
}

// GetUserinfo fetches the userinfo claims for an access token.
func (c *Client) GetUserinfo(ctx context.Context, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oauth2/userinfo", nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, statusError(res)
	}

	var userinfo map[string]any
	if err := json.NewDecoder(res.Body).Decode(&userinfo); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	return userinfo, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(url.QueryEscape(c.clientID), url.QueryEscape(c.clientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling identity service: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return statusError(res)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusError(res *http.Response) error {
	se := &StatusError{StatusCode: res.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil {
		se.Code = oauthErr.Error
		se.Description = oauthErr.ErrorDescription
	}
	return se
}
