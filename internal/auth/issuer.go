package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrMissingSigningKey is returned when no signing secret is configured.
var ErrMissingSigningKey = errors.New("credential signing key is empty")

// Credential is an opaque token proving a successful verification.
type Credential struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// CredentialClaims are carried inside issued credentials.
type CredentialClaims struct {
	AttemptID string `json:"attempt_id"`
	jwt.RegisteredClaims
}

// CredentialIssuer signs credentials with HMAC-SHA256. Every credential has a
// random uuid v4 jti, so tokens are unpredictable even for the same subject.
type CredentialIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewCredentialIssuer builds an issuer. A non-positive ttl defaults to 15 minutes.
func NewCredentialIssuer(secret, issuer, audience string, ttl time.Duration) (*CredentialIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSigningKey
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CredentialIssuer{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue signs a credential for identityKey bound to attemptID.
func (i *CredentialIssuer) Issue(_ context.Context, identityKey, attemptID string) (*Credential, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	now := i.now().UTC()
	expires := now.Add(i.ttl)

	claims := CredentialClaims{
		AttemptID: attemptID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Subject:   identityKey,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, err
	}
	return &Credential{Token: signed, ID: claims.ID, ExpiresAt: expires}, nil
}
