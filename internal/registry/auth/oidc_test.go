package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/domain"
)

// jwksProvider is a fake OIDC issuer: a well-known document, a JWKS
// endpoint, and a signing key. blockKeys makes JWKS fetches hang until the
// gate closes, to exercise refresh behavior under a slow provider.
type jwksProvider struct {
	key    *rsa.PrivateKey
	kid    string
	server *httptest.Server

	blockKeys atomic.Bool
	entered   chan struct{}
	gate      chan struct{}
}

func newJWKSProvider(t *testing.T) *jwksProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &jwksProvider{
		key:     key,
		kid:     "kid-1",
		entered: make(chan struct{}, 8),
		gate:    make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": p.server.URL + "/keys"})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		if p.blockKeys.Load() {
			p.entered <- struct{}{}
			<-p.gate
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": p.kid,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   "AQAB",
			}},
		})
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *jwksProvider) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = p.kid
	signed, err := token.SignedString(p.key)
	require.NoError(t, err)
	return signed
}

func (p *jwksProvider) claims(expiresIn time.Duration) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   p.server.URL,
		"aud":   "stardag",
		"exp":   time.Now().Add(expiresIn).Unix(),
		"sub":   "ext-user-1",
		"email": "dev@example.com",
		"name":  "Dev",
	}
}

func TestOIDCVerify(t *testing.T) {
	p := newJWKSProvider(t)
	v := NewOIDCVerifier(p.server.URL, "stardag", p.server.Client(), logging.Nop())

	claims, err := v.Verify(context.Background(), p.sign(t, p.claims(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, "ext-user-1", claims.Subject)
	require.Equal(t, "dev@example.com", claims.Email)

	expired := p.claims(-time.Minute)
	_, err = v.Verify(context.Background(), p.sign(t, expired))
	require.True(t, errors.Is(err, domain.ErrTokenExpired))

	wrongAud := p.claims(time.Hour)
	wrongAud["aud"] = "someone-else"
	_, err = v.Verify(context.Background(), p.sign(t, wrongAud))
	require.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestVerifyServesCachedKeyDuringSlowRefresh(t *testing.T) {
	p := newJWKSProvider(t)
	v := NewOIDCVerifier(p.server.URL, "stardag", p.server.Client(), logging.Nop())

	// Prime the key cache, then force the next lookup to refresh.
	_, err := v.Verify(context.Background(), p.sign(t, p.claims(time.Hour)))
	require.NoError(t, err)
	v.keyTTL = 0
	p.blockKeys.Store(true)

	firstDone := make(chan error, 1)
	go func() {
		_, err := v.Verify(context.Background(), p.sign(t, p.claims(time.Hour)))
		firstDone <- err
	}()
	// Wait until the refresh is parked inside the JWKS fetch.
	select {
	case <-p.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh never reached the JWKS endpoint")
	}

	// A concurrent verification must not queue behind the hung fetch.
	done := make(chan error, 1)
	go func() {
		_, err := v.Verify(context.Background(), p.sign(t, p.claims(time.Hour)))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err, "cached key should verify while a refresh is in flight")
	case <-time.After(2 * time.Second):
		t.Fatal("verification blocked behind the JWKS refresh")
	}

	close(p.gate)
	require.NoError(t, <-firstDone)
}
