// Package crypto implements password hashing and API key generation.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword derives an Argon2id hash with a fresh random salt.
func HashPassword(password string) (hash, salt []byte, err error) {
	salt, err = RandBytes(saltLen)
	if err != nil {
		return nil, nil, err
	}
	return derive(password, salt), salt, nil
}

// VerifyPassword reports whether password matches the stored hash and salt.
// An empty stored hash never matches.
func VerifyPassword(password string, salt, expected []byte) bool {
	if len(expected) == 0 || len(salt) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(derive(password, salt), expected) == 1
}

func derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
