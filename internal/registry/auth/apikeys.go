package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/stardag/stardag/internal/registry/auth/crypto"
)

// apiKeyPrefixLen is how many characters of the full key are stored in clear
// for indexed candidate lookup. The prefix is not unique.
const apiKeyPrefixLen = 8

// GenerateAPIKey returns a new plaintext key, its lookup prefix, and the
// argon2id hash to store. The plaintext is shown to the caller exactly once.
func GenerateAPIKey() (plain, prefix, hash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate api key: %w", err)
	}
	plain = "sk_" + base64.RawURLEncoding.EncodeToString(buf)
	prefix = KeyPrefix(plain)
	hash, err = crypto.Hash(plain)
	if err != nil {
		return "", "", "", fmt.Errorf("hash api key: %w", err)
	}
	return plain, prefix, hash, nil
}

// KeyPrefix returns the indexed lookup prefix of a full key string.
func KeyPrefix(key string) string {
	if len(key) < apiKeyPrefixLen {
		return key
	}
	return key[:apiKeyPrefixLen]
}

// VerifyAPIKey compares a presented key against a stored hash in constant
// time.
func VerifyAPIKey(presented, storedHash string) (bool, error) {
	return crypto.Verify(presented, storedHash)
}
