// Package auth implements the single-operator bearer credential the command
// surface checks on every authenticated request, reduced from the teacher's
// multi-tenant API-key/JWT system: there is exactly one key, configured at
// startup, compared in constant time.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Service holds the operator's static key and, optionally, a secret used to
// mint short-lived reconnect tokens for websocket clients that already
// proved possession of the key once over HTTP.
type Service struct {
	keyHash         [32]byte
	reconnectSecret string
	reconnectTTL    time.Duration
}

func New(apiKey, reconnectSecret string, reconnectTTL time.Duration) *Service {
	return &Service{
		keyHash:         sha256.Sum256([]byte(apiKey)),
		reconnectSecret: reconnectSecret,
		reconnectTTL:    reconnectTTL,
	}
}

// Validate reports whether rawKey matches the configured API key. Comparison
// is constant-time over the hash, not the raw key, so neither length nor
// content of the real key leaks through timing.
func (s *Service) Validate(rawKey string) bool {
	if rawKey == "" {
		return false
	}
	candidate := sha256.Sum256([]byte(rawKey))
	return subtle.ConstantTimeCompare(s.keyHash[:], candidate[:]) == 1
}

type reconnectClaims struct {
	jwt.RegisteredClaims
}

// IssueReconnectToken mints a short-lived JWT a client can present on the
// websocket upgrade request instead of its long-lived API key, so the key
// itself never needs to travel in a URL query string.
func (s *Service) IssueReconnectToken() (string, error) {
	if s.reconnectSecret == "" {
		return "", errors.New("auth: no reconnect secret configured")
	}
	now := time.Now()
	claims := reconnectClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.reconnectTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.reconnectSecret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueReconnectToken: %w", err)
	}
	return signed, nil
}

// ValidateReconnectToken reports whether tokenStr is a reconnect token this
// service issued and has not expired.
func (s *Service) ValidateReconnectToken(tokenStr string) bool {
	if s.reconnectSecret == "" {
		return false
	}
	claims := &reconnectClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return []byte(s.reconnectSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && token.Valid
}
