package client

import (
	"context"
	"fmt"
	"sync"
)

// Credentials supplies the bearer token for each request. Implementations
// that can re-mint a token after expiry return the fresh token from Refresh;
// the rest return an error and the original 401 surfaces.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// APIKey is a non-expiring environment-scoped credential.
type APIKey string

func (k APIKey) Token(context.Context) (string, error) { return string(k), nil }

func (k APIKey) Refresh(context.Context) (string, error) {
	return "", fmt.Errorf("api keys do not expire and cannot be refreshed: %w", ErrUnauthorized)
}

// StaticToken is a fixed bearer token, useful for tests and short scripts.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

func (t StaticToken) Refresh(context.Context) (string, error) {
	return "", fmt.Errorf("static token cannot be refreshed: %w", ErrTokenExpired)
}

// ExchangeFunc mints a workspace token. force bypasses any cache the
// implementation keeps.
type ExchangeFunc func(ctx context.Context, force bool) (string, error)

// ExchangedToken adapts an ExchangeFunc into Credentials, caching the last
// minted token until a Refresh forces a new one.
type ExchangedToken struct {
	mu       sync.Mutex
	exchange ExchangeFunc
	cached   string
}

// NewExchangedToken wraps an exchange function.
func NewExchangedToken(exchange ExchangeFunc) *ExchangedToken {
	return &ExchangedToken{exchange: exchange}
}

func (t *ExchangedToken) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cached != "" {
		return t.cached, nil
	}
	token, err := t.exchange(ctx, false)
	if err != nil {
		return "", err
	}
	t.cached = token
	return token, nil
}

func (t *ExchangedToken) Refresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	token, err := t.exchange(ctx, true)
	if err != nil {
		return "", err
	}
	t.cached = token
	return token, nil
}
