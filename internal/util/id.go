package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewToken returns an opaque random token, used for CSRF values and request
// correlation ids. Domain rows use database-assigned integer ids instead.
func NewToken() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
