// ABOUTME: Unit tests for probe credential issuing and verification
// ABOUTME: Tests valid, tampered, foreign, and expired credentials

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock/testclock"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func TestCredentialIssuer_RoundTrip(t *testing.T) {
	issuer := NewCredentialIssuer(testSecret, nil)

	token, err := issuer.Issue("probe-123", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != "probe-123" {
		t.Errorf("Verify() = %q, want %q", got, "probe-123")
	}
}

func TestCredentialIssuer_IssueRejects(t *testing.T) {
	issuer := NewCredentialIssuer(testSecret, nil)

	if _, err := issuer.Issue("  ", time.Hour); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Issue(blank) error = %v, want ErrMissingClaim", err)
	}
	if _, err := issuer.Issue("probe-1", 0); err == nil {
		t.Error("Issue(ttl=0) expected error")
	}
}

func TestCredentialIssuer_InvalidTokens(t *testing.T) {
	issuer := NewCredentialIssuer(testSecret, nil)

	foreign, _ := NewCredentialIssuer([]byte("different-secret-value"), nil).Issue("probe-1", time.Hour)

	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "probe-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  Issuer,
		Subject: "probe-1",
	}).SignedString(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: foreign},
		{name: "wrong issuer", token: wrongIssuer},
		{name: "missing expiry", token: noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestCredentialIssuer_MissingSubject(t *testing.T) {
	issuer := NewCredentialIssuer(testSecret, nil)

	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)

	if _, err := issuer.Verify(token); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}

func TestCredentialIssuer_Expiry(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	issuer := NewCredentialIssuer(testSecret, clk)

	token, err := issuer.Issue("probe-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	clk.Advance(59 * time.Minute)
	if _, err := issuer.Verify(token); err != nil {
		t.Fatalf("Verify() before expiry error = %v", err)
	}

	clk.Advance(2 * time.Minute)
	if _, err := issuer.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() after expiry error = %v, want ErrExpiredToken", err)
	}
}
