// Package auth validates bearer tokens for the API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoVerifier = errors.New("no token verifier configured")

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
	Close() error
}

// Claims is the identity carried by an accepted token. HMAC tokens carry the
// user id as "userId"; OIDC tokens use "sub".
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the user id, falling back to the registered subject.
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// HMACVerifier validates tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (v *HMACVerifier) Close() error { return nil }

// Issue signs a token for userID, mainly for tests and local tooling.
func (v *HMACVerifier) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "dubstudio-api",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Chain tries each verifier in order and returns the first success.
type Chain []TokenVerifier

func (c Chain) Validate(tokenString string) (*Claims, error) {
	if len(c) == 0 {
		return nil, ErrNoVerifier
	}
	var errs []error
	for _, v := range c {
		claims, err := v.Validate(tokenString)
		if err == nil {
			return claims, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("token rejected: %w", errors.Join(errs...))
}

func (c Chain) Close() error {
	var errs []error
	for _, v := range c {
		if err := v.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
