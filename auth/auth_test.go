package auth

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHS256_ParseAndValidate(t *testing.T) {
	secret := []byte("test-secret")
	validator := &HS256{Secret: secret}

	t.Run("valid token", func(t *testing.T) {
		token, err := CreateToken(secret, "session-1", "chessdesk-ui", time.Hour)
		if err != nil {
			t.Fatalf("failed to create token: %v", err)
		}

		claims, err := validator.ParseAndValidate(token)
		if err != nil {
			t.Fatalf("failed to validate token: %v", err)
		}
		if claims.Subject != "session-1" {
			t.Errorf("expected subject 'session-1', got %q", claims.Subject)
		}
		if claims.Client != "chessdesk-ui" {
			t.Errorf("expected client 'chessdesk-ui', got %q", claims.Client)
		}
		if claims.Issuer != Issuer {
			t.Errorf("expected issuer %q, got %q", Issuer, claims.Issuer)
		}
		if claims.ExpiresAt == nil {
			t.Error("expected an expiry")
		}
	})

	t.Run("token without expiry", func(t *testing.T) {
		token, err := CreateToken(secret, "session-2", "", 0)
		if err != nil {
			t.Fatalf("failed to create token: %v", err)
		}
		claims, err := validator.ParseAndValidate(token)
		if err != nil {
			t.Fatalf("failed to validate token: %v", err)
		}
		if claims.ExpiresAt != nil {
			t.Errorf("expected no expiry, got %v", claims.ExpiresAt)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := CreateToken([]byte("wrong-secret"), "session-1", "", time.Hour)
		if err != nil {
			t.Fatalf("failed to create token: %v", err)
		}
		if _, err := validator.ParseAndValidate(token); err == nil {
			t.Error("expected validation to fail with wrong secret")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "session-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		if _, err := validator.ParseAndValidate(token); err == nil {
			t.Error("expected validation to fail for expired token")
		}
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		if _, err := validator.ParseAndValidate(token); err == nil {
			t.Error("expected validation to fail for a foreign issuer")
		}
	})

	t.Run("wrong signing method", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		if _, err := validator.ParseAndValidate(token); err == nil {
			t.Error("expected validation to fail for HS512 token")
		}
	})

	t.Run("malformed and empty tokens", func(t *testing.T) {
		for _, tok := range []string{"", "not.a.token", "abc"} {
			if _, err := validator.ParseAndValidate(tok); err == nil {
				t.Errorf("expected validation to fail for %q", tok)
			}
		}
	})
}

func TestCreateToken(t *testing.T) {
	if _, err := CreateToken(nil, "s", "c", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestBearerFromRequest(t *testing.T) {
	newReq := func(header, query string) *http.Request {
		r := &http.Request{Header: http.Header{}, URL: &url.URL{RawQuery: query}}
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	tests := []struct {
		name   string
		header string
		query  string
		want   string
		ok     bool
	}{
		{"authorization header", "Bearer abc", "", "abc", true},
		{"case insensitive", "bearer abc", "", "abc", true},
		{"extra spaces", "Bearer   abc  ", "", "abc", true},
		{"query parameter", "", "access_token=xyz", "xyz", true},
		{"header takes precedence", "Bearer abc", "access_token=xyz", "abc", true},
		{"empty bearer falls back to query", "Bearer ", "access_token=xyz", "xyz", true},
		{"basic auth ignored", "Basic dXNlcjpwYXNz", "", "", false},
		{"nothing", "", "", "", false},
		{"empty query parameter", "", "access_token=", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BearerFromRequest(newReq(tt.header, tt.query))
			if ok != tt.ok || got != tt.want {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.want, tt.ok, got, ok)
			}
		})
	}
}
