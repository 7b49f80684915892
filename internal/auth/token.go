// Package auth issues and verifies the signed, time-limited session tokens
// that real-time connections authenticate with. Tokens are stateless: a
// base64 JSON payload signed with HMAC-SHA256, so verification needs no
// storage round-trip.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sprintsync/internal/domain"
)

// Claims is the verified content of a session token. Subject is the stable
// external identity of the user, not the row id.
type Claims struct {
	Subject   string    `json:"sub"`
	Name      string    `json:"name"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// TokenVerifier validates a credential and extracts its claims. An expired
// or malformed token fails deterministically with ErrAuthFailure.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// TokenService both mints and verifies session tokens with a shared secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. ttl bounds the validity of every
// issued token.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

var _ TokenVerifier = (*TokenService)(nil)

// Issue mints a token for the given subject and reports when it expires.
func (s *TokenService) Issue(subject, name string) (string, time.Time) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)
	payload, err := json.Marshal(Claims{
		Subject:   subject,
		Name:      name,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		// Claims is a plain struct; a marshal failure is a programming error.
		panic(err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + s.sign(body), expiresAt
}

// Verify checks the signature and validity window of a token.
func (s *TokenService) Verify(_ context.Context, token string) (*Claims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, fmt.Errorf("%w: malformed token", domain.ErrAuthFailure)
	}
	if !hmac.Equal([]byte(s.sign(body)), []byte(sig)) {
		return nil, fmt.Errorf("%w: bad signature", domain.ErrAuthFailure)
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed token", domain.ErrAuthFailure)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: malformed token", domain.ErrAuthFailure)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrAuthFailure)
	}
	if time.Now().After(claims.ExpiresAt) {
		return nil, fmt.Errorf("%w: token expired", domain.ErrAuthFailure)
	}
	return &claims, nil
}

func (s *TokenService) sign(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
