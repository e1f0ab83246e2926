package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// The UI-surface helpers below authenticate with a caller-supplied bearer
// token instead of the client's SDK credential: the login flow needs them
// before a profile exists.

// User is the authenticated principal.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// WorkspaceMembership is one workspace visible to the caller.
type WorkspaceMembership struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Slug           string `json:"slug"`
	Name           string `json:"name"`
	Role           string `json:"role"`
}

// Me is the caller's profile view.
type Me struct {
	User       User                  `json:"user"`
	Workspaces []WorkspaceMembership `json:"workspaces"`
}

// Environment is one execution scope in a workspace.
type Environment struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
}

// ExchangeResult is a freshly minted workspace token.
type ExchangeResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AuthConfig is the registry's advertised OIDC coordinates.
type AuthConfig struct {
	OIDCIssuer   string `json:"oidc_issuer"`
	OIDCClientID string `json:"oidc_client_id"`
}

// FetchAuthConfig reads GET /auth/config. No credential is needed; the login
// flow calls this first to discover where to authenticate.
func FetchAuthConfig(ctx context.Context, baseURL string) (AuthConfig, error) {
	var out AuthConfig
	err := uiGet(ctx, baseURL, "", "/auth/config", &out)
	return out, err
}

// FetchMe returns the caller's user and workspaces. Accepts an OIDC token.
func FetchMe(ctx context.Context, baseURL, bearer string) (Me, error) {
	var out Me
	err := uiGet(ctx, baseURL, bearer, "/ui/me", &out)
	return out, err
}

// ListEnvironments lists a workspace's environments. Requires an internal
// (exchanged) token.
func ListEnvironments(ctx context.Context, baseURL, bearer, workspaceID string) ([]Environment, error) {
	var out struct {
		Environments []Environment `json:"environments"`
	}
	err := uiGet(ctx, baseURL, bearer, "/ui/workspaces/"+workspaceID+"/environments", &out)
	return out.Environments, err
}

// Exchange trades an OIDC token for a short-lived workspace token.
func Exchange(ctx context.Context, baseURL, oidcToken, workspaceID string) (ExchangeResult, error) {
	payload, _ := json.Marshal(map[string]string{"workspace_id": workspaceID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(baseURL, "/")+apiPrefix+"/auth/exchange", bytes.NewReader(payload))
	if err != nil {
		return ExchangeResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+oidcToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := uiHTTPClient.Do(req)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("exchange token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ExchangeResult{}, decodeError(resp)
	}
	var out ExchangeResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ExchangeResult{}, fmt.Errorf("decode exchange response: %w", err)
	}
	return out, nil
}

var uiHTTPClient = &http.Client{Timeout: 30 * time.Second}

func uiGet(ctx context.Context, baseURL, bearer, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(baseURL, "/")+apiPrefix+path, nil)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := uiHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
