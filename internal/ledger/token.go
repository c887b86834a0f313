package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// NewToken mints an opaque bearer token: "abl_" plus 32 random bytes in
// URL-safe base64 without padding (43 characters).
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "abl_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the lowercase hex SHA-256 of a trimmed token. Only this
// hash is ever persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
