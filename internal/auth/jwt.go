package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Package-level secret. Empty secret means authentication is disabled:
// the service then accepts every request without a token.
var jwtSecret []byte

// DefaultTokenTTL is used when GenerateToken receives a non-positive TTL.
const DefaultTokenTTL = 24 * time.Hour

var (
	ErrAuthDisabled = errors.New("authentication is disabled")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims represents JWT claims issued for API clients.
type Claims struct {
	ClientID string `json:"client_id"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Configure sets the signing secret from configuration.
// An empty secret disables authentication, short secrets are rejected.
func Configure(secret string) error {
	if secret == "" {
		jwtSecret = nil
		return nil
	}
	if len(secret) < 16 {
		return errors.New("auth secret must be at least 16 bytes")
	}
	jwtSecret = []byte(secret)
	return nil
}

// Enabled reports whether token checks are active.
func Enabled() bool {
	return len(jwtSecret) > 0
}

// GenerateToken creates a signed HS256 token for the given client.
func GenerateToken(clientID string, isAdmin bool, ttl time.Duration) (string, error) {
	if !Enabled() {
		return "", ErrAuthDisabled
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		ClientID: clientID,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "voxelgen",
			Subject:   clientID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken checks token validity and returns its claims.
func ValidateToken(tokenString string) (*Claims, error) {
	if !Enabled() {
		return nil, ErrAuthDisabled
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// VerifySharedSecret reports whether the presented secret matches the
// configured one. Comparison is constant-time.
func VerifySharedSecret(secret string) bool {
	if !Enabled() {
		return false
	}
	return hmac.Equal([]byte(secret), jwtSecret)
}

// GenerateSecureSecret generates a new random secret suitable for Configure.
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
