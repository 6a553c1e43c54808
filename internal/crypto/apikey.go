package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// APIKeyPrefix marks keys issued by this service.
const APIKeyPrefix = "qris_"

const (
	apiKeyRandLen  = 32
	displayKeyLen  = len(APIKeyPrefix) + 8
	generatedPwLen = 18
)

// GenerateAPIKey returns a new raw API key.
func GenerateAPIKey() (string, error) {
	b, err := RandBytes(apiKeyRandLen)
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey returns the lookup fingerprint of a raw key.
func HashAPIKey(raw string) []byte {
	h := sha256.Sum256([]byte(raw))
	return h[:]
}

// DisplayPrefix returns the part of a raw key that is safe to show again.
func DisplayPrefix(raw string) string {
	if len(raw) <= displayKeyLen {
		return raw
	}
	return raw[:displayKeyLen]
}

// GeneratePassword returns a random URL-safe password.
func GeneratePassword() (string, error) {
	b, err := RandBytes(generatedPwLen)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Fingerprint renders a key hash for logs.
func Fingerprint(hash []byte) string {
	if len(hash) < 4 {
		return ""
	}
	return strings.ToLower(hex.EncodeToString(hash[:4]))
}
