// Package auth issues and validates the signed editor tokens the builder
// transport requires. Tokens are payload.signature, HMAC-SHA256 over the
// base64url JSON claims.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EditorClaims identifies the authenticated editor acting on the builder.
type EditorClaims struct {
	EditorID int64  `json:"sub"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	CSRF     string `json:"csrf"`
	Exp      int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func IssueToken(secret []byte, claims EditorClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := sign(secret, payload)
	return payload + "." + signature, nil
}

func ParseToken(secret []byte, token string) (EditorClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return EditorClaims{}, ErrInvalidToken
	}
	payload := parts[0]
	signature := parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return EditorClaims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return EditorClaims{}, ErrInvalidToken
	}

	var claims EditorClaims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return EditorClaims{}, ErrInvalidToken
	}
	if claims.EditorID == 0 || claims.Name == "" || claims.CSRF == "" || claims.Exp == 0 {
		return EditorClaims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return EditorClaims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
