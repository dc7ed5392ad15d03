package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		UserID:   "user-1",
		Username: "avery",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "avery" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("one"), Claims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("two"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseToken([]byte("one"), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenFallsBackToSubject(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-9"}})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != "user-9" {
		t.Fatalf("unexpected user id %q", claims.UserID)
	}
}

func TestVerifierIdentify(t *testing.T) {
	v := NewVerifier("secret")
	identity, err := v.Identify("")
	if err != nil || identity != nil {
		t.Fatalf("empty token should be anonymous, got %+v, %v", identity, err)
	}
	token, err := v.Issue("user-2", "blake", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	identity, err = v.Identify(token)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if identity.UserID != "user-2" || identity.Username != "blake" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if _, err := v.Identify("garbage"); err == nil {
		t.Fatal("expected Identify() to fail for garbage token")
	}
}
