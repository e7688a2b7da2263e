// Package auth holds the login glue: signed session tokens, the GitLab
// OAuth flow and the stores that keep each user's GitLab access token.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gitlaber/types"
)

// ErrInvalidSession is returned for malformed, forged or expired sessions
var ErrInvalidSession = errors.New("invalid session")

// Claims identify a logged-in administrator
type Claims struct {
	jwt.RegisteredClaims
	UserID   int    `json:"uid"`
	Username string `json:"username"`
	// AccessToken is only set when tokens live in the session
	AccessToken string `json:"gat,omitempty"`
}

// Sessions issues and validates HS256 session tokens
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

// NewSessions returns a session signer; secret must not be empty
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	return &Sessions{secret: []byte(secret), ttl: ttl}, nil
}

// NewClaims returns unsigned claims for user
func (s *Sessions) NewClaims(user *types.GitLabUser) *Claims {
	now := time.Now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID:   user.ID,
		Username: user.Username,
	}
}

// Sign returns the signed token for claims
func (s *Sessions) Sign(claims *Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Validate parses and verifies a session token
func (s *Sessions) Validate(tokenString string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
