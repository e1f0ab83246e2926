package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stardag/stardag/internal/registry/domain"
)

// InternalTokens mints and parses the registry's own workspace-scoped
// tokens. These are short-lived HS256 JWTs issued by the exchange endpoint.
type InternalTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewInternalTokens creates a token manager. The TTL defaults to 10 minutes.
func NewInternalTokens(secret, issuer string, ttl time.Duration) *InternalTokens {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &InternalTokens{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// TTL returns the configured token lifetime.
func (m *InternalTokens) TTL() time.Duration {
	return m.ttl
}

// InternalClaims is the decoded content of an internal token.
type InternalClaims struct {
	UserID      string
	WorkspaceID string
	ExpiresAt   time.Time
}

// Mint signs an internal token binding the user to a workspace.
func (m *InternalTokens) Mint(userID, workspaceID string) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("internal token secret not configured")
	}
	expiresAt := time.Now().Add(m.ttl)
	claims := jwt.MapClaims{
		"sub":          userID,
		"workspace_id": workspaceID,
		"iss":          m.issuer,
		"exp":          expiresAt.Unix(),
		"iat":          time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse validates an internal token. Expiry is reported distinctly as
// domain.ErrTokenExpired so the SDK can refresh instead of failing.
func (m *InternalTokens) Parse(raw string) (InternalClaims, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return InternalClaims{}, fmt.Errorf("internal token: %w", domain.ErrTokenExpired)
		}
		return InternalClaims{}, fmt.Errorf("internal token: %w: %v", domain.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return InternalClaims{}, fmt.Errorf("internal token claims: %w", domain.ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	workspaceID, _ := claims["workspace_id"].(string)
	expValue, _ := claims["exp"].(float64)
	if sub == "" || workspaceID == "" {
		return InternalClaims{}, fmt.Errorf("internal token missing claims: %w", domain.ErrUnauthorized)
	}
	return InternalClaims{
		UserID:      sub,
		WorkspaceID: workspaceID,
		ExpiresAt:   time.Unix(int64(expValue), 0),
	}, nil
}
