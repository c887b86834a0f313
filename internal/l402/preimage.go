// Package l402 implements the L402 payment-authorization scheme: macaroon
// minting and verification bound to Lightning payment hashes, and the
// preimage-to-hash codec used to admit proofs of payment.
package l402

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidPreimage is returned when a preimage is not 32 bytes of hex.
var ErrInvalidPreimage = errors.New("preimage must be 64 hex characters (32 bytes)")

// CanonicalHash normalizes a payment hash to lowercase hex with no
// surrounding whitespace. It does not validate length; hashes are compared
// bit-exactly after canonicalization.
func CanonicalHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// HashFromPreimage decodes a hex preimage, requires exactly 32 bytes, and
// returns the lowercase hex SHA-256 payment hash.
func HashFromPreimage(preimageHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(preimageHex))
	if err != nil {
		return "", ErrInvalidPreimage
	}
	if len(raw) != 32 {
		return "", ErrInvalidPreimage
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
