package utils // package utils provides helper functions for token generation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for opaque credentials
	"encoding/base64"
	"encoding/hex" // hex encoding for digests and random tokens
	"math/big"
)

// voucherAlphabet is the character set voucher codes are drawn from:
// uppercase letters and digits only, so codes survive being read over the
// phone or typed on a captive-portal splash page.
const voucherAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data. Used for portal tokens and
// verification/reset tokens.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RandomURLToken returns a URL-safe base64 token from n bytes of secure
// random data, the shape used for email verification and password reset
// links.
func RandomURLToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RandomCode returns a random code of the given length drawn from the
// voucher alphabet. Each character is chosen with crypto/rand so codes are
// not guessable from one another.
func RandomCode(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(voucherAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = voucherAlphabet[n.Int64()]
	}
	return string(out), nil
}

// HashSHA256 returns the SHA-256 hex digest of the input. Refresh tokens,
// backup codes and password-history entries are stored only in this form.
func HashSHA256(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
