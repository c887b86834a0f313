package l402

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	macaroon "gopkg.in/macaroon.v2"
)

var (
	// ErrInvalidMacaroon is returned when a macaroon fails to decode or its
	// HMAC chain does not verify under the root key.
	ErrInvalidMacaroon = errors.New("invalid macaroon")

	// ErrInvalidAuthorization is returned when an Authorization header is
	// not of the form "L402 <macaroon-b64>:<preimage-hex>".
	ErrInvalidAuthorization = errors.New("invalid L402 authorization header")
)

// Caveats holds the first-party caveats carried by a gateway macaroon.
type Caveats struct {
	PaymentHash string
	AmountSats  int64
	AccountID   string // empty unless the challenge was account-bound
}

// Minter issues and verifies macaroons under a process-wide root key.
type Minter struct {
	rootKey  []byte
	location string
}

// NewMinter builds a Minter from a hex root key. When the key is empty an
// ephemeral one is generated and a warning logged: macaroons minted before a
// restart will then fail verification.
func NewMinter(rootKeyHex, location string, log zerolog.Logger) (*Minter, error) {
	var rootKey []byte
	if rootKeyHex == "" {
		rootKey = make([]byte, 32)
		if _, err := rand.Read(rootKey); err != nil {
			return nil, fmt.Errorf("generate ephemeral root key: %w", err)
		}
		log.Warn().Msg("l402.ephemeral_root_key: L402_ROOT_KEY unset, outstanding macaroons will not survive restart")
	} else {
		var err error
		rootKey, err = hex.DecodeString(rootKeyHex)
		if err != nil || len(rootKey) != 32 {
			return nil, errors.New("root key must be 64 hex characters (32 bytes)")
		}
	}
	return &Minter{rootKey: rootKey, location: location}, nil
}

// Mint issues a macaroon whose identifier is the payment hash, with
// first-party caveats binding the hash, the paid amount, and optionally the
// account the challenge was issued for. Returns the base64 (std, padded)
// encoding of the binary macaroon.
func (m *Minter) Mint(paymentHash string, amountSats int64, accountID string) (string, error) {
	paymentHash = CanonicalHash(paymentHash)

	mac, err := macaroon.New(m.rootKey, []byte(paymentHash), m.location, macaroon.LatestVersion)
	if err != nil {
		return "", fmt.Errorf("mint macaroon: %w", err)
	}

	caveats := []string{
		"payment_hash=" + paymentHash,
		"amount_sats=" + strconv.FormatInt(amountSats, 10),
	}
	if accountID != "" {
		caveats = append(caveats, "account_id="+accountID)
	}
	for _, cav := range caveats {
		if err := mac.AddFirstPartyCaveat([]byte(cav)); err != nil {
			return "", fmt.Errorf("add caveat: %w", err)
		}
	}

	raw, err := mac.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal macaroon: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Verify decodes a base64 macaroon, checks its HMAC chain under the root key,
// and extracts the gateway caveats. Any first-party caveat content is accepted
// by the signature check; caveat semantics are enforced by the caller.
func (m *Minter) Verify(macB64 string) (Caveats, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(macB64))
	if err != nil {
		// Some clients strip padding.
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimSpace(macB64))
		if err != nil {
			return Caveats{}, ErrInvalidMacaroon
		}
	}

	var mac macaroon.Macaroon
	if err := mac.UnmarshalBinary(raw); err != nil {
		return Caveats{}, ErrInvalidMacaroon
	}

	if err := mac.Verify(m.rootKey, func(string) error { return nil }, nil); err != nil {
		return Caveats{}, ErrInvalidMacaroon
	}

	return extractCaveats(&mac)
}

// extractCaveats parses the first-party caveats, rejecting duplicates of the
// required keys and non-integer amounts.
func extractCaveats(mac *macaroon.Macaroon) (Caveats, error) {
	var (
		out     Caveats
		seen    = map[string]bool{}
		haveAmt bool
	)

	for _, cav := range mac.Caveats() {
		key, value, found := strings.Cut(string(cav.Id), "=")
		if !found {
			continue
		}
		switch key {
		case "payment_hash":
			if seen[key] {
				return Caveats{}, ErrInvalidMacaroon
			}
			seen[key] = true
			out.PaymentHash = CanonicalHash(value)
		case "amount_sats":
			if seen[key] {
				return Caveats{}, ErrInvalidMacaroon
			}
			seen[key] = true
			amt, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || amt < 0 {
				return Caveats{}, ErrInvalidMacaroon
			}
			out.AmountSats = amt
			haveAmt = true
		case "account_id":
			if seen[key] {
				return Caveats{}, ErrInvalidMacaroon
			}
			seen[key] = true
			out.AccountID = strings.TrimSpace(value)
		}
	}

	if out.PaymentHash == "" || !haveAmt {
		return Caveats{}, ErrInvalidMacaroon
	}
	return out, nil
}

// ParseAuthorization splits an "L402 <macaroon-b64>:<preimage-hex>" header.
// The split is on the last colon because base64 never contains one but a
// malformed concatenation might.
func ParseAuthorization(header string) (macB64, preimage string, err error) {
	const scheme = "L402 "
	if !strings.HasPrefix(header, scheme) {
		return "", "", ErrInvalidAuthorization
	}
	rest := strings.TrimSpace(header[len(scheme):])
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", ErrInvalidAuthorization
	}
	return strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx+1:]), nil
}
