package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

const (
	sessionIDSize  = 16
	csrfTokenSize  = 32
	resetSecretLen = 32
)

// NewSessionID returns a fresh opaque session identifier: 128 bits from
// the system CSPRNG, base64url without padding. Also used for challenge
// handles.
func NewSessionID() (string, error) {
	var raw [sessionIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewCSRFToken returns a 256-bit hex-encoded anti-forgery token.
func NewCSRFToken() (string, error) {
	var raw [csrfTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// NewResetSecret returns a 256-bit reset secret. The plaintext leaves the
// process exactly once, inside the delivery; storage sees only HashSecret
// of it.
func NewResetSecret() ([]byte, error) {
	raw := make([]byte, resetSecretLen)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// EncodeResetToken renders a reset secret for embedding in a link.
func EncodeResetToken(secret []byte) string {
	return hex.EncodeToString(secret)
}

// DecodeResetToken parses a client-supplied reset token back into secret
// bytes. Length is checked so garbage input fails before any hashing.
func DecodeResetToken(token string) ([]byte, error) {
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, err
	}
	if len(raw) != resetSecretLen {
		return nil, errors.New("invalid reset token size")
	}
	return raw, nil
}

// HashSecret is the storage form of reset secrets: sha256, compared in
// constant time at redemption.
func HashSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// HashBindingValue is the storage form of session fingerprint material
// (client IP, user agent).
func HashBindingValue(value string) []byte {
	sum := sha256.Sum256([]byte(value))
	return sum[:]
}

// NewNumericCode returns a zero-padded numeric one-time code drawn
// uniformly from the full space (000000–999999 for six digits) using the
// system CSPRNG. Predictable OTPs are a direct exploit path, so a fast
// PRNG is never acceptable here.
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("code digits out of range")
	}
	bound := big.NewInt(1)
	for i := 0; i < digits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
