package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

// OIDCClaims is the subset of verified ID-token claims the registry uses.
type OIDCClaims struct {
	Subject string
	Email   string
	Name    string
}

// OIDCVerifier validates RS256 ID tokens from a configured issuer. Signing
// keys are discovered through the issuer's well-known configuration and
// cached; a failed refresh falls back to the stale key set so a flaky
// provider does not take authentication down with it.
type OIDCVerifier struct {
	issuer   string
	audience string
	client   *http.Client
	keyTTL   time.Duration
	logger   logging.Logger

	mu         sync.Mutex
	keys       map[string]*rsa.PublicKey
	fetchedAt  time.Time
	jwksURI    string
	refreshing bool
}

// NewOIDCVerifier creates a verifier for the given issuer and audience.
func NewOIDCVerifier(issuer, audience string, client *http.Client, logger logging.Logger) *OIDCVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &OIDCVerifier{
		issuer:   strings.TrimRight(issuer, "/"),
		audience: audience,
		client:   client,
		keyTTL:   15 * time.Minute,
		logger:   logging.OrNop(logger),
	}
}

// Verify checks signature, issuer, audience, and expiry, returning the
// identity claims. The email claim is required because users are provisioned
// from it.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (OIDCClaims, error) {
	parsed, err := jwt.Parse(rawToken, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		return v.keyFor(ctx, kid)
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return OIDCClaims{}, fmt.Errorf("oidc token: %w", domain.ErrTokenExpired)
		}
		return OIDCClaims{}, fmt.Errorf("oidc token: %w: %v", domain.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return OIDCClaims{}, fmt.Errorf("oidc token claims: %w", domain.ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if sub == "" || email == "" {
		return OIDCClaims{}, fmt.Errorf("oidc token missing sub or email: %w", domain.ErrUnauthorized)
	}
	return OIDCClaims{Subject: sub, Email: email, Name: name}, nil
}

// keyFor returns the cached RSA key for kid, refreshing the JWKS when the
// cache is cold, stale, or missing the kid. The HTTP fetch runs outside the
// mutex so a slow provider never serializes every in-flight verification
// behind it; concurrent callers ride the stale cache while one refreshes.
func (v *OIDCVerifier) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	if key, ok := v.keys[kid]; ok && time.Since(v.fetchedAt) < v.keyTTL {
		v.mu.Unlock()
		return key, nil
	}
	if v.refreshing {
		key, ok := v.keys[kid]
		v.mu.Unlock()
		if ok {
			return key, nil
		}
		return nil, fmt.Errorf("signing key %q not cached and a refresh is in flight", kid)
	}
	v.refreshing = true
	jwksURI := v.jwksURI
	v.mu.Unlock()

	keys, fetchedURI, fetchErr := v.fetchKeys(ctx, jwksURI)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.refreshing = false
	if fetchErr != nil {
		// Stale fallback: keep serving cached keys when the provider is
		// unreachable.
		if key, ok := v.keys[kid]; ok {
			v.logger.Warn("JWKS refresh failed, using cached key: %v", fetchErr)
			return key, nil
		}
		return nil, fmt.Errorf("jwks refresh: %w", fetchErr)
	}
	v.jwksURI = fetchedURI
	v.keys = keys
	v.fetchedAt = time.Now()
	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("signing key %q not found", kid)
	}
	return key, nil
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// fetchKeys discovers the JWKS URI when not yet known and downloads the key
// set. It touches no verifier state, so callers run it unlocked.
func (v *OIDCVerifier) fetchKeys(ctx context.Context, jwksURI string) (map[string]*rsa.PublicKey, string, error) {
	if jwksURI == "" {
		var discovered struct {
			JWKSURI string `json:"jwks_uri"`
		}
		if err := v.getJSON(ctx, v.issuer+"/.well-known/openid-configuration", &discovered); err != nil {
			return nil, "", fmt.Errorf("discover openid configuration: %w", err)
		}
		if discovered.JWKSURI == "" {
			return nil, "", errors.New("issuer configuration has no jwks_uri")
		}
		jwksURI = discovered.JWKSURI
	}
	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := v.getJSON(ctx, jwksURI, &set); err != nil {
		return nil, "", fmt.Errorf("fetch jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			v.logger.Warn("skipping malformed JWK %q: %v", k.Kid, err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, "", errors.New("jwks contained no usable RSA keys")
	}
	return keys, jwksURI, nil
}

func (v *OIDCVerifier) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
