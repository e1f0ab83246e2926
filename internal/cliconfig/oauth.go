package cliconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var oauthHTTPClient = &http.Client{Timeout: 30 * time.Second}

// DiscoverTokenEndpoint resolves the issuer's token endpoint through its
// well-known OpenID configuration.
func DiscoverTokenEndpoint(ctx context.Context, issuerURL string) (string, error) {
	url := strings.TrimRight(issuerURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := oauthHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("discover openid configuration at %s: %w", issuerURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("openid configuration returned %d", resp.StatusCode)
	}
	var body struct {
		TokenEndpoint string `json:"token_endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode openid configuration: %w", err)
	}
	if body.TokenEndpoint == "" {
		return "", fmt.Errorf("openid configuration has no token_endpoint")
	}
	return body.TokenEndpoint, nil
}

// RefreshAccessToken redeems the stored refresh token at the issuer's token
// endpoint for a fresh OIDC access token (standard refresh_token grant).
func RefreshAccessToken(ctx context.Context, creds Credentials) (token string, expiresAt time.Time, err error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
		"client_id":     {creds.ClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.TokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := oauthHTTPClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh token at %s: %w", creds.TokenEndpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", time.Time{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned no access token")
	}
	return body.AccessToken, time.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}
