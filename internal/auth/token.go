// ABOUTME: Token verification extension point for transport-level authentication.
// ABOUTME: Ships an HS256 JWT verifier and a bcrypt-hashed static token verifier.

package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// TokenVerifier is the pluggable verification contract. The gateway
// does not mandate a scheme; any verifier satisfying this interface
// can guard the transport endpoints.
type TokenVerifier interface {
	Verify(token string) (principalID string, err error)
}

// JWTVerifier verifies HS256-signed JWTs and extracts the principal
// from the "sub" claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the given HMAC secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token signature and expiry.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return sub, nil
}

// StaticVerifier accepts a single pre-shared token, stored as a
// bcrypt hash so the config file never carries the plaintext.
type StaticVerifier struct {
	hash []byte
}

// NewStaticVerifier creates a verifier from a bcrypt hash string.
func NewStaticVerifier(bcryptHash string) *StaticVerifier {
	return &StaticVerifier{hash: []byte(bcryptHash)}
}

// HashToken produces a bcrypt hash suitable for the config file.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing token: %w", err)
	}
	return string(hash), nil
}

// Verify compares the presented token against the stored hash.
func (v *StaticVerifier) Verify(token string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return "", ErrInvalidToken
	}
	return "api-token", nil
}
