// Package crypto hashes API key secrets with Argon2id. The encoded form is
// self-describing, so stored hashes survive parameter changes:
//
//	argon2id$<time>$<memory_kib>$<threads>$<salt>$<digest>
//
// with the salt and digest in unpadded standard base64.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	hashTime      = 1
	hashMemoryKiB = 64 * 1024
	hashThreads   = 4
	saltLen       = 16
	digestLen     = 32
)

// Hash derives an Argon2id digest of the secret under a fresh random salt.
func Hash(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := argon2.IDKey([]byte(secret), salt, hashTime, hashMemoryKiB, hashThreads, digestLen)
	return strings.Join([]string{
		"argon2id",
		strconv.FormatUint(hashTime, 10),
		strconv.FormatUint(hashMemoryKiB, 10),
		strconv.FormatUint(hashThreads, 10),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	}, "$"), nil
}

// Verify re-derives the digest with the parameters recorded in encoded and
// compares in constant time.
func Verify(secret, encoded string) (bool, error) {
	t, memory, threads, salt, digest, err := parseEncoded(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(secret), salt, t, memory, threads, uint32(len(digest)))
	return subtle.ConstantTimeCompare(computed, digest) == 1, nil
}

func parseEncoded(encoded string) (t, memory uint32, threads uint8, salt, digest []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return 0, 0, 0, nil, nil, errors.New("malformed argon2id hash")
	}
	if parts[0] != "argon2id" {
		return 0, 0, 0, nil, nil, fmt.Errorf("unsupported hash algorithm %q", parts[0])
	}
	nums := make([]uint64, 3)
	for i, name := range []string{"time", "memory", "threads"} {
		nums[i], err = strconv.ParseUint(parts[i+1], 10, 32)
		if err != nil {
			return 0, 0, 0, nil, nil, fmt.Errorf("bad %s parameter: %w", name, err)
		}
	}
	if nums[2] == 0 || nums[2] > 255 {
		return 0, 0, 0, nil, nil, errors.New("thread count out of range")
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("decode salt: %w", err)
	}
	digest, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("decode digest: %w", err)
	}
	return uint32(nums[0]), uint32(nums[1]), uint8(nums[2]), salt, digest, nil
}
