// Package auth issues and checks the session tokens a UI process presents
// when it opens its connection to the backend.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the issuer stamped on and required of every session token.
const Issuer = "chessdesk"

// Claims represents the session token claims: the standard registered
// claims plus the name of the client application.
type Claims struct {
	jwt.RegisteredClaims
	Client string `json:"client,omitempty"`
}

// TokenValidator defines the interface for session token validation.
type TokenValidator interface {
	ParseAndValidate(token string) (*Claims, error)
}

// HS256 implements TokenValidator for tokens signed with HS256 using a shared Secret.
type HS256 struct {
	Secret []byte
}

// ParseAndValidate parses and validates a token string. It returns the
// parsed claims if the token is valid, or an error if validation fails.
func (v *HS256) ParseAndValidate(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, errors.New("empty token")
	}
	tok, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// CreateToken signs a session token for client with HS256. A zero ttl
// creates a token that does not expire.
func CreateToken(secret []byte, subject, client string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty secret")
	}
	now := time.Now().UTC()
	rc := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		rc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: rc, Client: client})
	return tok.SignedString(secret)
}

// BearerFromRequest extracts a bearer token from the HTTP request.
// It checks both the Authorization header and access_token query parameter.
func BearerFromRequest(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		if tok := strings.TrimSpace(h[len("Bearer "):]); tok != "" {
			return tok, true
		}
	}
	if q := r.URL.Query().Get("access_token"); q != "" {
		return q, true
	}
	return "", false
}
