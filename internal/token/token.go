// Package token generates the opaque references handed to registrants.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Bytes is the amount of randomness in a token (256 bits).
const Bytes = 32

// New returns a URL-safe, unpadded, cryptographically random token.
func New() (string, error) {
	buf := make([]byte, Bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
