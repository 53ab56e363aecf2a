package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// RefreshSecretLen is the number of random bytes in a refresh secret (256 bits).
const RefreshSecretLen = 32

// NewRefreshSecret returns a base64url-encoded random refresh secret.
func NewRefreshSecret() (string, error) {
	b, err := RandBytes(RefreshSecretLen)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshSecret returns the hex SHA-256 digest of a raw refresh secret.
// Only the digest is ever stored.
func HashRefreshSecret(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
