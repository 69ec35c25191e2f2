// ABOUTME: JWT credentials that authenticate a probe to the fleet
// ABOUTME: Uses HS256 signing with the configured secret and an injectable clock

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
)

// Issuer is the "iss" claim on every probe credential.
const Issuer = "probe-fleet"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// CredentialVerifier resolves a credential to the probe it was issued for.
type CredentialVerifier interface {
	Verify(token string) (probeID string, err error)
}

// CredentialIssuer signs and verifies probe credentials.
type CredentialIssuer struct {
	secret []byte
	clock  clock.Clock
}

// NewCredentialIssuer creates an issuer. A nil clock uses wall time.
func NewCredentialIssuer(secret []byte, clk clock.Clock) *CredentialIssuer {
	if clk == nil {
		clk = clock.WallClock
	}
	return &CredentialIssuer{secret: secret, clock: clk}
}

// Issue signs a credential for probeID that expires after ttl.
func (i *CredentialIssuer) Issue(probeID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(probeID) == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("credential ttl must be positive, got %s", ttl)
	}

	now := i.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   probeID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify validates the credential and returns the probe ID from its "sub" claim.
func (i *CredentialIssuer) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}
