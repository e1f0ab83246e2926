// Package client is the typed HTTP client for the Stardag registry. It
// covers the whole SDK surface: builds, tasks, events, assets, locks,
// search, and target roots.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stardag/stardag/internal/logging"
)

const apiPrefix = "/api/v1"

// Config carries the connection settings.
type Config struct {
	// BaseURL is the registry origin, e.g. "https://registry.example.com".
	BaseURL string
	// Credentials supplies the bearer token. STARDAG_API_KEY users pass
	// client.APIKey; profile users pass an ExchangedToken.
	Credentials Credentials
	// EnvironmentID is sent as the X-Environment-Id header. Required with
	// internal tokens; ignored by the server for API keys.
	EnvironmentID string
	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
	// HTTPClient overrides the default pooled client, mainly for tests.
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Client talks to one registry with one credential.
type Client struct {
	baseURL       string
	creds         Credentials
	environmentID string
	httpClient    *http.Client
	logger        logging.Logger

	locks *LockClient
}

// New builds a client. The underlying transport keeps a modest connection
// pool; build engines issue many small sequential requests.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("registry base url is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("credentials are required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	c := &Client{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		creds:         cfg.Credentials,
		environmentID: cfg.EnvironmentID,
		httpClient:    httpClient,
		logger:        logging.OrNop(cfg.Logger),
	}
	c.locks = &LockClient{c: c, completed: map[string]struct{}{}}
	return c, nil
}

// Locks returns the lock sub-client.
func (c *Client) Locks() *LockClient { return c.locks }

// Health probes the liveness endpoint without credentials.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPrefix+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// do issues one authenticated request and decodes the JSON response into
// out (when non-nil). A 401 token_expired triggers a single refresh and
// retry; any other error surfaces as-is.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain credential: %w", err)
	}
	err = c.doOnce(ctx, method, path, query, body, out, token)
	if err == nil || !errors.Is(err, ErrTokenExpired) {
		return err
	}
	c.logger.Debug("token expired, refreshing and retrying %s %s", method, path)
	token, refreshErr := c.creds.Refresh(ctx)
	if refreshErr != nil {
		return err
	}
	return c.doOnce(ctx, method, path, query, body, out, token)
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body, out any, token string) error {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.environmentID != "" {
		req.Header.Set("X-Environment-Id", c.environmentID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
